package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Status is the agent availability pushed to the backend.
type Status string

const (
	StatusAvailable Status = "available"
	StatusOffline   Status = "offline"
	StatusInCall    Status = "in_call"
	StatusError     Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOffline, StatusInCall, StatusError:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidStatus = errors.New("presence: invalid status")
	ErrAgentID       = errors.New("presence: agent_id is required")
)

// StatusWriter is the backend endpoint that stores agent status.
type StatusWriter interface {
	ChangeStatus(ctx context.Context, status, agentID string) error
}

// Reporter sends presence transitions. It never retries on its own; the
// caller decides when the next attempt happens.
type Reporter struct {
	w   StatusWriter
	log *slog.Logger
}

func NewReporter(w StatusWriter, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{w: w, log: log}
}

func (r *Reporter) Report(ctx context.Context, status Status, agentID string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if strings.TrimSpace(agentID) == "" {
		return ErrAgentID
	}
	if err := r.w.ChangeStatus(ctx, string(status), agentID); err != nil {
		r.log.Warn("presence report failed", "status", status, "agent_id", agentID, "err", err)
		return fmt.Errorf("presence: report %s: %w", status, err)
	}
	r.log.Info("presence reported", "status", status, "agent_id", agentID)
	return nil
}

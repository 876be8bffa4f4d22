package reporting

import (
	"context"
	"errors"
	"time"

	"agent-softphone/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the call history the summaries are computed from.
type Repository interface {
	Totals(ctx context.Context, agentIdentity string, from, to time.Time) ([]calls.Total, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.AgentIdentity == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	totals, err := s.repo.Totals(ctx, req.AgentIdentity, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{AgentIdentity: req.AgentIdentity, Range: req.Range}
	var inboundAnswered int
	for _, t := range totals {
		out.TotalCalls += t.Calls
		switch t.Direction {
		case calls.DirectionInbound:
			out.InboundCalls += t.Calls
			if t.Outcome == calls.OutcomeCompleted {
				inboundAnswered += t.Calls
			}
		case calls.DirectionOutbound:
			out.OutboundCalls += t.Calls
		}
		switch t.Outcome {
		case calls.OutcomeCompleted:
			out.CompletedCalls += t.Calls
			out.TotalDurationSeconds += t.DurationSeconds
		case calls.OutcomeMissed:
			out.MissedCalls += t.Calls
		case calls.OutcomeRejected:
			out.RejectedCalls += t.Calls
		case calls.OutcomeFailed:
			out.FailedCalls += t.Calls
		case calls.OutcomeCanceled:
			out.CanceledCalls += t.Calls
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.CompletedCalls
	}
	if out.InboundCalls > 0 {
		out.AnswerRate = float64(inboundAnswered) / float64(out.InboundCalls)
	}
	return out, nil
}

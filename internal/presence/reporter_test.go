package presence

import (
	"context"
	"errors"
	"testing"
)

type writerStub struct {
	status, agentID string
	err             error
	calls           int
}

func (w *writerStub) ChangeStatus(_ context.Context, status, agentID string) error {
	w.calls++
	w.status, w.agentID = status, agentID
	return w.err
}

func TestReport_SendsStatus(t *testing.T) {
	w := &writerStub{}
	if err := NewReporter(w, nil).Report(context.Background(), StatusInCall, "42"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if w.status != "in_call" || w.agentID != "42" {
		t.Fatalf("unexpected write %+v", w)
	}
}

func TestReport_RejectsUnknownStatusWithoutCallingBackend(t *testing.T) {
	w := &writerStub{}
	err := NewReporter(w, nil).Report(context.Background(), Status("busy"), "42")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if w.calls != 0 {
		t.Fatalf("backend must not be called")
	}
}

func TestReport_RequiresAgentID(t *testing.T) {
	if err := NewReporter(&writerStub{}, nil).Report(context.Background(), StatusAvailable, ""); !errors.Is(err, ErrAgentID) {
		t.Fatalf("expected ErrAgentID, got %v", err)
	}
}

func TestReport_WrapsBackendFailure(t *testing.T) {
	boom := errors.New("503")
	err := NewReporter(&writerStub{err: boom}, nil).Report(context.Background(), StatusOffline, "42")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

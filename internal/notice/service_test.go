package notice

import (
	"context"
	"errors"
	"testing"
)

func TestService_AppendRequiresKindAndMessage(t *testing.T) {
	svc := NewService(NewMemoryRepo(10))

	if _, err := svc.Append(context.Background(), Notice{Message: "x"}); !errors.Is(err, ErrInvalidNotice) {
		t.Fatalf("expected ErrInvalidNotice, got %v", err)
	}
	if _, err := svc.Append(context.Background(), Notice{Kind: KindMissedCall}); !errors.Is(err, ErrInvalidNotice) {
		t.Fatalf("expected ErrInvalidNotice, got %v", err)
	}
}

func TestService_FillsDefaults(t *testing.T) {
	svc := NewService(NewMemoryRepo(10))

	n, err := svc.Append(context.Background(), Notice{Kind: KindMissedCall, Message: "missed +14805551234"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at, got %+v", n)
	}
	if n.Severity != SeverityInfo {
		t.Fatalf("expected info severity, got %q", n.Severity)
	}
}

func TestMemoryRepo_TrimsOldestAndListsNewestFirst(t *testing.T) {
	repo := NewMemoryRepo(2)
	svc := NewService(repo)
	for _, m := range []string{"one", "two", "three"} {
		if _, err := svc.Append(context.Background(), Notice{Kind: KindChannelLost, Message: m}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := svc.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Message != "three" || got[1].Message != "two" {
		t.Fatalf("unexpected notices %+v", got)
	}
}

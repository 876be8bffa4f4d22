package calls

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"agent-softphone/pkg/utils"
)

func sampleRecord(id string, ended time.Time) Record {
	return Record{
		ID:            id,
		AgentIdentity: "agent_42",
		Direction:     DirectionInbound,
		Outcome:       OutcomeCompleted,
		RemoteAddress: "+14805551234",
		ConferenceID:  "ConfABC",
		StartedAt:     ended.Add(-90 * time.Second),
		EndedAt:       ended,

		DurationSeconds: 90,
		Participants: []Participant{
			{LegID: "CA1", RemoteAddress: "+14805551234", Country: "US", City: "PHOENIX"},
			{LegID: "CA2", RemoteAddress: "+15550001111"},
		},
	}
}

func newSQLiteRepo(t *testing.T) *SQLRepo {
	t.Helper()
	ctx := context.Background()
	db, err := utils.OpenSQL(ctx, utils.DriverSQLite, filepath.Join(t.TempDir(), "calls.db"), utils.SQLPoolConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := utils.RunMigrations(ctx, db, utils.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLRepo(db, utils.DriverSQLite)
}

func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	if err := repo.Save(ctx, Record{ID: "x"}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}

	older := sampleRecord("c1", base)
	newer := sampleRecord("c2", base.Add(time.Hour))
	newer.Outcome = OutcomeMissed
	newer.StartedAt = time.Time{}
	newer.DurationSeconds = 0
	newer.Participants = nil
	other := sampleRecord("c3", base)
	other.AgentIdentity = "agent_7"

	for _, r := range []Record{older, newer, other} {
		if err := repo.Save(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}

	got, err := repo.ListRecent(ctx, "agent_42", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c2" || got[1].ID != "c1" {
		t.Fatalf("expected newest first for agent_42, got %+v", got)
	}
	if !got[0].StartedAt.IsZero() || got[0].Outcome != OutcomeMissed {
		t.Fatalf("unexpected missed record %+v", got[0])
	}
	if len(got[1].Participants) != 2 || got[1].Participants[0].LegID != "CA1" {
		t.Fatalf("expected participants on completed call, got %+v", got[1].Participants)
	}
	if !got[1].EndedAt.Equal(base) {
		t.Fatalf("expected ended_at %v, got %v", base, got[1].EndedAt)
	}

	limited, err := repo.ListRecent(ctx, "agent_42", 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	// c1 sits on the lower bound, c2 on the excluded upper bound.
	totals, err := repo.Totals(ctx, "agent_42", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if len(totals) != 1 {
		t.Fatalf("expected one group in range, got %+v", totals)
	}
	if tt := totals[0]; tt.Outcome != OutcomeCompleted || tt.Direction != DirectionInbound || tt.Calls != 1 || tt.DurationSeconds != 90 {
		t.Fatalf("unexpected total %+v", tt)
	}

	totals, err = repo.Totals(ctx, "agent_42", base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("totals wide: %v", err)
	}
	var n int
	for _, tt := range totals {
		n += tt.Calls
	}
	if len(totals) != 2 || n != 2 {
		t.Fatalf("expected completed and missed groups, got %+v", totals)
	}
}

func TestMemoryRepo(t *testing.T) {
	exerciseRepository(t, NewMemoryRepo())
}

func TestSQLRepo_SQLite(t *testing.T) {
	exerciseRepository(t, newSQLiteRepo(t))
}

func TestSQLRepo_DuplicateIDRollsBack(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	rec := sampleRecord("c1", time.Unix(1700000000, 0).UTC())
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Save(ctx, rec); err == nil {
		t.Fatalf("expected duplicate id to fail")
	}
	got, err := repo.ListRecent(ctx, "agent_42", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || len(got[0].Participants) != 2 {
		t.Fatalf("expected single record with its participants, got %+v", got)
	}
}

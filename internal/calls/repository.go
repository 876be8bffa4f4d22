package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrInvalidRecord = errors.New("calls: invalid record")

// Repository stores finished calls. It is insert-only.
type Repository interface {
	Save(ctx context.Context, r Record) error
	ListRecent(ctx context.Context, agentIdentity string, limit int) ([]Record, error)
	Totals(ctx context.Context, agentIdentity string, from, to time.Time) ([]Total, error)
}

// Total aggregates the calls of one direction and outcome that ended in
// [from, to).
type Total struct {
	Direction       Direction
	Outcome         Outcome
	Calls           int
	DurationSeconds int
}

func validate(r Record) error {
	if r.ID == "" || r.AgentIdentity == "" || r.EndedAt.IsZero() {
		return ErrInvalidRecord
	}
	if r.Direction != DirectionInbound && r.Direction != DirectionOutbound {
		return ErrInvalidRecord
	}
	if !r.Outcome.Valid() {
		return ErrInvalidRecord
	}
	return nil
}

// MemoryRepo is an in-memory repository for tests and STORE_DRIVER=memory.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (m *MemoryRepo) Save(_ context.Context, r Record) error {
	if err := validate(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Participants = append([]Participant(nil), r.Participants...)
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryRepo) ListRecent(_ context.Context, agentIdentity string, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, r := range m.records {
		if r.AgentIdentity == agentIdentity {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepo) Totals(_ context.Context, agentIdentity string, from, to time.Time) ([]Total, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type key struct {
		d Direction
		o Outcome
	}
	var (
		order []key
		sums  = map[key]*Total{}
	)
	for _, r := range m.records {
		if r.AgentIdentity != agentIdentity || r.EndedAt.Before(from) || !r.EndedAt.Before(to) {
			continue
		}
		k := key{r.Direction, r.Outcome}
		t, ok := sums[k]
		if !ok {
			t = &Total{Direction: r.Direction, Outcome: r.Outcome}
			sums[k] = t
			order = append(order, k)
		}
		t.Calls++
		t.DurationSeconds += r.DurationSeconds
	}

	out := make([]Total, 0, len(order))
	for _, k := range order {
		out = append(out, *sums[k])
	}
	return out, nil
}

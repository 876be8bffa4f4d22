package notice

import (
	"context"
	"sync"
)

// MemoryRepo keeps the most recent notices of this process.
type MemoryRepo struct {
	mu      sync.Mutex
	limit   int
	notices []Notice
}

func NewMemoryRepo(limit int) *MemoryRepo {
	if limit <= 0 {
		limit = 200
	}
	return &MemoryRepo{limit: limit}
}

func (r *MemoryRepo) Append(_ context.Context, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	if over := len(r.notices) - r.limit; over > 0 {
		r.notices = append([]Notice(nil), r.notices[over:]...)
	}
	return nil
}

// Recent returns up to limit notices, newest first.
func (r *MemoryRepo) Recent(_ context.Context, limit int) ([]Notice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.notices) {
		limit = len(r.notices)
	}
	out := make([]Notice, 0, limit)
	for i := len(r.notices) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.notices[i])
	}
	return out, nil
}

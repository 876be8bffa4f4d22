package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	ErrRefreshFailed = errors.New("credential: refresh failed")
	ErrNotFound      = errors.New("credential: no stored token")
	ErrIdentity      = errors.New("credential: identity is required")
)

// Issuer mints a fresh capability token for identity.
type Issuer interface {
	NewToken(ctx context.Context, identity string) (string, error)
}

// Store persists the latest token per identity.
type Store interface {
	Load(ctx context.Context, identity string) (Token, error)
	Save(ctx context.Context, identity string, t Token) error
}

type Manager struct {
	issuer Issuer
	store  Store
	log    *slog.Logger
	clock  func() time.Time

	group singleflight.Group
}

func NewManager(issuer Issuer, store Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		issuer: issuer,
		store:  store,
		log:    log,
		clock:  time.Now,
	}
}

// IsValid reports whether raw can be handed to the endpoint right now.
func (m *Manager) IsValid(raw string) bool {
	return IsValid(raw, m.clock())
}

// Current returns the stored token for identity if it is still usable.
func (m *Manager) Current(ctx context.Context, identity string) (Token, bool) {
	t, err := m.store.Load(ctx, identity)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.log.Warn("token load failed", "identity", identity, "err", err)
		}
		return Token{}, false
	}
	if !t.UsableAt(m.clock()) {
		return Token{}, false
	}
	return t, true
}

// Refresh requests a new token for identity. Concurrent callers share one
// in-flight request and receive the same result. On failure the stored token
// is left as it was.
func (m *Manager) Refresh(ctx context.Context, identity string) (Token, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Token{}, ErrIdentity
	}

	ch := m.group.DoChan(identity, func() (any, error) {
		// The shared request must not die with whichever caller started it.
		return m.refresh(context.WithoutCancel(ctx), identity)
	})

	select {
	case <-ctx.Done():
		return Token{}, fmt.Errorf("%w: %w", ErrRefreshFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

func (m *Manager) refresh(ctx context.Context, identity string) (Token, error) {
	raw, err := m.issuer.NewToken(ctx, identity)
	if err != nil {
		m.log.Warn("token refresh failed", "identity", identity, "err", err)
		return Token{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	t, err := Parse(raw)
	if err != nil {
		m.log.Warn("issued token rejected", "identity", identity, "err", err)
		return Token{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if !t.UsableAt(m.clock()) {
		return Token{}, fmt.Errorf("%w: issued token already expired", ErrRefreshFailed)
	}
	if t.Identity == "" {
		t.Identity = identity
	}

	if err := m.store.Save(ctx, identity, t); err != nil {
		return Token{}, fmt.Errorf("%w: persist: %w", ErrRefreshFailed, err)
	}
	m.log.Info("token refreshed", "identity", identity, "expires_at", t.ExpiresAt)
	return t, nil
}

package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agent-softphone/pkg/utils"

	sq "github.com/Masterminds/squirrel"
)

// SQLStore persists tokens in the capability_tokens table (sqlite or postgres).
type SQLStore struct {
	db    *sql.DB
	sb    sq.StatementBuilderType
	clock func() time.Time
}

func NewSQLStore(db *sql.DB, driverName string) *SQLStore {
	return &SQLStore{db: db, sb: utils.StatementBuilder(driverName), clock: time.Now}
}

func (s *SQLStore) Load(ctx context.Context, identity string) (Token, error) {
	q, args, err := s.sb.
		Select("raw_value", "issued_at", "expires_at").
		From("capability_tokens").
		Where(sq.Eq{"identity": identity}).
		ToSql()
	if err != nil {
		return Token{}, fmt.Errorf("credential: build select: %w", err)
	}

	var (
		t        = Token{Identity: identity}
		issuedAt sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&t.Raw, &issuedAt, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("credential: load token: %w", err)
	}
	if issuedAt.Valid {
		t.IssuedAt = issuedAt.Time
	}
	return t, nil
}

func (s *SQLStore) Save(ctx context.Context, identity string, t Token) error {
	var issuedAt any
	if !t.IssuedAt.IsZero() {
		issuedAt = t.IssuedAt.UTC()
	}

	q, args, err := s.sb.
		Insert("capability_tokens").
		Columns("identity", "raw_value", "issued_at", "expires_at", "updated_at").
		Values(identity, t.Raw, issuedAt, t.ExpiresAt.UTC(), s.clock().UTC()).
		Suffix("ON CONFLICT (identity) DO UPDATE SET " +
			"raw_value = excluded.raw_value, issued_at = excluded.issued_at, " +
			"expires_at = excluded.expires_at, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("credential: build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("credential: save token: %w", err)
	}
	return nil
}

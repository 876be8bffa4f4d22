package calls

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agent-softphone/pkg/utils"

	sq "github.com/Masterminds/squirrel"
)

// SQLRepo stores call history in call_history and call_participants.
type SQLRepo struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewSQLRepo(db *sql.DB, driverName string) *SQLRepo {
	return &SQLRepo{db: db, sb: utils.StatementBuilder(driverName)}
}

func (r *SQLRepo) Save(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	var startedAt any
	if !rec.StartedAt.IsZero() {
		startedAt = rec.StartedAt.UTC()
	}

	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := r.sb.
			Insert("call_history").
			Columns("id", "agent_identity", "direction", "outcome", "remote_address",
				"conference_id", "provider_call_id", "started_at", "ended_at", "duration_seconds").
			Values(rec.ID, rec.AgentIdentity, string(rec.Direction), string(rec.Outcome), rec.RemoteAddress,
				rec.ConferenceID, rec.ProviderCallID, startedAt, rec.EndedAt.UTC(), rec.DurationSeconds).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("calls: insert record: %w", err)
		}

		if len(rec.Participants) == 0 {
			return nil
		}
		ins := r.sb.Insert("call_participants").Columns("call_id", "leg_id", "remote_address", "country", "city")
		for _, p := range rec.Participants {
			ins = ins.Values(rec.ID, p.LegID, p.RemoteAddress, p.Country, p.City)
		}
		if _, err := ins.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("calls: insert participants: %w", err)
		}
		return nil
	})
}

func (r *SQLRepo) ListRecent(ctx context.Context, agentIdentity string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	q, args, err := r.sb.
		Select("id", "agent_identity", "direction", "outcome", "remote_address",
			"conference_id", "provider_call_id", "started_at", "ended_at", "duration_seconds").
		From("call_history").
		Where(sq.Eq{"agent_identity": agentIdentity}).
		OrderBy("ended_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("calls: build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	defer rows.Close()

	var (
		out   []Record
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			rec       Record
			direction string
			outcome   string
			startedAt sql.NullTime
			endedAt   time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.AgentIdentity, &direction, &outcome, &rec.RemoteAddress,
			&rec.ConferenceID, &rec.ProviderCallID, &startedAt, &endedAt, &rec.DurationSeconds); err != nil {
			return nil, fmt.Errorf("calls: scan: %w", err)
		}
		rec.Direction = Direction(direction)
		rec.Outcome = Outcome(outcome)
		rec.EndedAt = endedAt
		if startedAt.Valid {
			rec.StartedAt = startedAt.Time
		}
		index[rec.ID] = len(out)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calls: rows: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(out))
	for _, rec := range out {
		ids = append(ids, rec.ID)
	}
	pq, pargs, err := r.sb.
		Select("call_id", "leg_id", "remote_address", "country", "city").
		From("call_participants").
		Where(sq.Eq{"call_id": ids}).
		OrderBy("call_id", "leg_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("calls: build participants select: %w", err)
	}
	prows, err := r.db.QueryContext(ctx, pq, pargs...)
	if err != nil {
		return nil, fmt.Errorf("calls: list participants: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var (
			callID string
			p      Participant
		)
		if err := prows.Scan(&callID, &p.LegID, &p.RemoteAddress, &p.Country, &p.City); err != nil {
			return nil, fmt.Errorf("calls: scan participant: %w", err)
		}
		if i, ok := index[callID]; ok {
			out[i].Participants = append(out[i].Participants, p)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("calls: participant rows: %w", err)
	}
	return out, nil
}

func (r *SQLRepo) Totals(ctx context.Context, agentIdentity string, from, to time.Time) ([]Total, error) {
	q, args, err := r.sb.
		Select("direction", "outcome", "COUNT(*)", "SUM(duration_seconds)").
		From("call_history").
		Where(sq.Eq{"agent_identity": agentIdentity}).
		Where(sq.GtOrEq{"ended_at": from.UTC()}).
		Where(sq.Lt{"ended_at": to.UTC()}).
		GroupBy("direction", "outcome").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("calls: build totals: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("calls: totals: %w", err)
	}
	defer rows.Close()

	var out []Total
	for rows.Next() {
		var (
			t                  Total
			direction, outcome string
		)
		if err := rows.Scan(&direction, &outcome, &t.Calls, &t.DurationSeconds); err != nil {
			return nil, fmt.Errorf("calls: scan total: %w", err)
		}
		t.Direction = Direction(direction)
		t.Outcome = Outcome(outcome)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calls: rows: %w", err)
	}
	return out, nil
}

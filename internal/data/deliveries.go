package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type DeliveryModel struct {
	DB DBTX
}

// RecordAttempt stores one delivery attempt. Attempts are append-only.
func (m DeliveryModel) RecordAttempt(ctx context.Context, a *DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (
			rule_id, event_id, action_type, attempt, outcome,
			latency_ms, response_code, error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	var code sql.NullInt32
	if a.ResponseCode > 0 {
		code = sql.NullInt32{Int32: int32(a.ResponseCode), Valid: true}
	}

	return m.DB.QueryRowContext(ctx, query,
		a.RuleID, a.EventID, string(a.ActionType), a.Attempt, string(a.Outcome),
		a.Latency.Milliseconds(), code, a.Error,
	).Scan(&a.ID, &a.CreatedAt)
}

func (m DeliveryModel) ListForEvent(ctx context.Context, eventID uuid.UUID) ([]DeliveryAttempt, error) {
	query := `
		SELECT id, rule_id, event_id, action_type, attempt, outcome, latency_ms, response_code, error, created_at
		FROM delivery_attempts
		WHERE event_id = $1
		ORDER BY id ASC`

	rows, err := m.DB.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryAttempt
	for rows.Next() {
		var a DeliveryAttempt
		var action, outcome string
		var latencyMS int64
		var code sql.NullInt32
		if err := rows.Scan(
			&a.ID, &a.RuleID, &a.EventID, &action, &a.Attempt, &outcome,
			&latencyMS, &code, &a.Error, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.ActionType = ActionType(action)
		a.Outcome = DeliveryOutcome(outcome)
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		if code.Valid {
			a.ResponseCode = int(code.Int32)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

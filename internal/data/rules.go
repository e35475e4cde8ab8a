package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type RuleModel struct {
	DB DBTX
}

// ListRules returns every rule in creation order. A row whose conditions or
// actions cannot be decoded is still returned, with DecodeErr set.
func (m RuleModel) ListRules(ctx context.Context) ([]AlertRule, error) {
	query := `
		SELECT id, name, is_enabled, conditions, actions, cooldown_seconds, last_triggered_at, created_at
		FROM alert_rules
		ORDER BY created_at ASC, id ASC`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []AlertRule
	for rows.Next() {
		var r AlertRule
		var conditions, actions []byte
		var lastTriggered pq.NullTime

		if err := rows.Scan(
			&r.ID, &r.Name, &r.Enabled, &conditions, &actions,
			&r.CooldownSeconds, &lastTriggered, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
			r.Conditions = ConditionSpec{}
			r.DecodeErr = fmt.Errorf("decode conditions: %w", err)
		} else if err := json.Unmarshal(actions, &r.Actions); err != nil {
			r.Actions = nil
			r.DecodeErr = fmt.Errorf("decode actions: %w", err)
		}
		if lastTriggered.Valid {
			t := lastTriggered.Time
			r.LastTriggeredAt = &t
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (m RuleModel) Insert(ctx context.Context, r *AlertRule) error {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_rules (id, name, is_enabled, conditions, actions, cooldown_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	return m.DB.QueryRowContext(ctx, query,
		r.ID, r.Name, r.Enabled, conditions, actions, r.CooldownSeconds,
	).Scan(&r.CreatedAt)
}

// MarkTriggered records the time of a rule's latest match. Older timestamps never
// overwrite newer ones.
func (m RuleModel) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE alert_rules
		SET last_triggered_at = $1
		WHERE id = $2 AND (last_triggered_at IS NULL OR last_triggered_at < $1)`
	_, err := m.DB.ExecContext(ctx, query, at.UTC(), id)
	return err
}

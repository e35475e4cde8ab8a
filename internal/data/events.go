package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// check_violation
const pqCheckViolation = "23514"

type EventModel struct {
	DB DBTX
}

// Commit validates and inserts a new event. The returned id is the event's
// durable identity; ID is generated here when the caller left it zero.
func (m EventModel) Commit(ctx context.Context, e *Event) (uuid.UUID, error) {
	if err := e.Validate(); err != nil {
		return uuid.Nil, err
	}
	if e.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, err
		}
		e.ID = id
	}

	detections, err := json.Marshal(nonNilDetections(e.Detections))
	if err != nil {
		return uuid.Nil, err
	}

	query := `
		INSERT INTO events (
			id, camera_id, camera_name, occurred_at, description,
			confidence, detections, provider, is_manual, entity_id, thumbnail_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err = m.DB.QueryRowContext(ctx, query,
		e.ID, e.CameraID, e.CameraName, e.Timestamp.UTC(), e.Description,
		e.Confidence, detections, e.Provider, e.IsManual, e.EntityID, e.ThumbnailURL,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqCheckViolation {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidEvent, pqErr.Message)
		}
		return uuid.Nil, err
	}
	return e.ID, nil
}

const eventColumns = `id, camera_id, camera_name, occurred_at, description, confidence,
		       detections, provider, is_manual, entity_id, thumbnail_url, feedback,
		       created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var detections, feedback []byte
	var entityID uuid.NullUUID

	err := row.Scan(
		&e.ID, &e.CameraID, &e.CameraName, &e.Timestamp, &e.Description, &e.Confidence,
		&detections, &e.Provider, &e.IsManual, &entityID, &e.ThumbnailURL, &feedback,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if entityID.Valid {
		id := entityID.UUID
		e.EntityID = &id
	}
	if len(detections) > 0 {
		if err := json.Unmarshal(detections, &e.Detections); err != nil {
			return nil, fmt.Errorf("decode detections: %w", err)
		}
	}
	if len(feedback) > 0 {
		if err := json.Unmarshal(feedback, &e.Feedback); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
	}
	return &e, nil
}

func (m EventModel) Get(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	e, err := scanEvent(m.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateDescription replaces the generated fields of an event after re-analysis.
// The id, camera and timestamp are kept.
func (m EventModel) UpdateDescription(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	detections, err := json.Marshal(nonNilDetections(e.Detections))
	if err != nil {
		return err
	}

	query := `
		UPDATE events
		SET description = $1, confidence = $2, detections = $3, provider = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	err = m.DB.QueryRowContext(ctx, query,
		e.Description, e.Confidence, detections, e.Provider, e.ID,
	).Scan(&e.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

// AppendFeedback adds one feedback entry. Existing entries are never rewritten.
func (m EventModel) AppendFeedback(ctx context.Context, id uuid.UUID, f Feedback) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	entry, err := json.Marshal([]Feedback{f})
	if err != nil {
		return err
	}

	query := `UPDATE events SET feedback = feedback || $1::jsonb, updated_at = NOW() WHERE id = $2`
	res, err := m.DB.ExecContext(ctx, query, entry, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m EventModel) LinkEntity(ctx context.Context, id, entityID uuid.UUID) error {
	query := `UPDATE events SET entity_id = $1, updated_at = NOW() WHERE id = $2`
	res, err := m.DB.ExecContext(ctx, query, entityID, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListRecent returns the newest events, optionally restricted to one camera.
func (m EventModel) ListRecent(ctx context.Context, cameraID string, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	args := []any{limit}
	where := ""
	if cameraID != "" {
		where = "WHERE camera_id = $2"
		args = append(args, cameraID)
	}

	query := fmt.Sprintf(`SELECT %s FROM events %s ORDER BY occurred_at DESC, id DESC LIMIT $1`, eventColumns, where)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nonNilDetections(d []Detection) []Detection {
	if d == nil {
		return []Detection{}
	}
	return d
}

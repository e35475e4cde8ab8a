package data

import (
	"context"
	"database/sql"
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Models groups the Postgres models used by the service.
type Models struct {
	Events     EventModel
	Rules      RuleModel
	Cameras    CameraModel
	Deliveries DeliveryModel
}

func NewModels(db DBTX) Models {
	return Models{
		Events:     EventModel{DB: db},
		Rules:      RuleModel{DB: db},
		Cameras:    CameraModel{DB: db},
		Deliveries: DeliveryModel{DB: db},
	}
}

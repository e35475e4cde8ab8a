package data

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

type CameraModel struct {
	DB DBTX
}

func (m CameraModel) List(ctx context.Context) ([]CameraSource, error) {
	query := `
		SELECT id, name, is_enabled, cooldown_seconds, motion_sensitivity, analysis_mode
		FROM camera_sources
		ORDER BY id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cams []CameraSource
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cams = append(cams, *c)
	}
	return cams, rows.Err()
}

func (m CameraModel) Get(ctx context.Context, id string) (*CameraSource, error) {
	query := `
		SELECT id, name, is_enabled, cooldown_seconds, motion_sensitivity, analysis_mode
		FROM camera_sources
		WHERE id = $1`

	c, err := scanCamera(m.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return c, nil
}

// SetStatus sets is_enabled
func (m CameraModel) SetStatus(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE camera_sources SET is_enabled = $1, updated_at = NOW() WHERE id = $2`
	res, err := m.DB.ExecContext(ctx, query, enabled, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func scanCamera(row rowScanner) (*CameraSource, error) {
	var c CameraSource
	var cooldown sql.NullInt32
	var mode string
	if err := row.Scan(&c.ID, &c.Name, &c.Enabled, &cooldown, &c.MotionSensitivity, &mode); err != nil {
		return nil, err
	}
	if cooldown.Valid {
		v := int(cooldown.Int32)
		c.CooldownSeconds = &v
	}
	c.AnalysisMode = AnalysisMode(mode)
	if c.AnalysisMode == "" {
		c.AnalysisMode = AnalysisSingleFrame
	}
	return &c, nil
}

// CameraRegistry is the in-memory view of the configured cameras.
type CameraRegistry struct {
	mu              sync.RWMutex
	cams            map[string]CameraSource
	defaultCooldown time.Duration
}

func NewCameraRegistry(defaultCooldown time.Duration, cams ...CameraSource) *CameraRegistry {
	r := &CameraRegistry{
		cams:            make(map[string]CameraSource, len(cams)),
		defaultCooldown: defaultCooldown,
	}
	r.Replace(cams)
	return r
}

// Replace swaps the full camera set, e.g. after a reload from the database.
func (r *CameraRegistry) Replace(cams []CameraSource) {
	next := make(map[string]CameraSource, len(cams))
	for _, c := range cams {
		if c.AnalysisMode == "" {
			c.AnalysisMode = AnalysisSingleFrame
		}
		next[c.ID] = c
	}
	r.mu.Lock()
	r.cams = next
	r.mu.Unlock()
}

func (r *CameraRegistry) Camera(id string) (CameraSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cams[id]
	return c, ok
}

func (r *CameraRegistry) All() []CameraSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CameraSource, 0, len(r.cams))
	for _, c := range r.cams {
		out = append(out, c)
	}
	return out
}

// SetEnabled flips a camera's enabled flag. It reports false for unknown cameras.
func (r *CameraRegistry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cams[id]
	if !ok {
		return false
	}
	c.Enabled = enabled
	r.cams[id] = c
	return true
}

// CooldownFor returns the camera override, or the default for unknown cameras
// and cameras without one.
func (r *CameraRegistry) CooldownFor(id string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cams[id]; ok && c.CooldownSeconds != nil {
		if *c.CooldownSeconds <= 0 {
			return 0
		}
		return time.Duration(*c.CooldownSeconds) * time.Second
	}
	return r.defaultCooldown
}

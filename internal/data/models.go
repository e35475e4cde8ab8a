package data

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidEvent   = errors.New("invalid event")
)

type AnalysisMode string

const (
	AnalysisSingleFrame AnalysisMode = "single_frame"
	AnalysisMultiFrame  AnalysisMode = "multi_frame"
	AnalysisContinuous  AnalysisMode = "continuous"
)

// CameraSource is the configuration of one capture device as seen by the pipeline.
type CameraSource struct {
	ID                string       `json:"id" yaml:"id"`
	Name              string       `json:"name" yaml:"name"`
	Enabled           bool         `json:"enabled" yaml:"enabled"`
	CooldownSeconds   *int         `json:"cooldown_seconds,omitempty" yaml:"cooldown_seconds,omitempty"`
	MotionSensitivity int          `json:"motion_sensitivity" yaml:"motion_sensitivity"`
	AnalysisMode      AnalysisMode `json:"analysis_mode" yaml:"analysis_mode"`
}

type TriggerKind string

const (
	TriggerMotion         TriggerKind = "motion"
	TriggerSmartDetection TriggerKind = "smart_detection"
	TriggerManual         TriggerKind = "manual"
)

// Frame is one captured image. MotionScore is nil when the source did not score it.
type Frame struct {
	Data        []byte    `json:"-"`
	CapturedAt  time.Time `json:"captured_at"`
	MotionScore *float64  `json:"motion_score,omitempty"`
}

// Trigger is a request to analyze a camera. Triggers are never persisted.
type Trigger struct {
	CameraID   string
	CapturedAt time.Time
	Frames     []Frame
	Kind       TriggerKind
	// Hint carries the source's own label, e.g. the Frigate object label.
	Hint string
}

func (t Trigger) IsManual() bool { return t.Kind == TriggerManual }

// BBox is a bounding box normalized to [0,1] in both axes.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (b BBox) Validate() error {
	if b.X < 0 || b.X > 1 || b.Y < 0 || b.Y > 1 {
		return fmt.Errorf("bbox origin out of range")
	}
	if b.W <= 0 || b.H <= 0 {
		return fmt.Errorf("bbox must have positive size")
	}
	if b.X+b.W > 1.0001 || b.Y+b.H > 1.0001 {
		return fmt.Errorf("bbox exceeds frame")
	}
	return nil
}

type Detection struct {
	Type string `json:"type"`
	Box  *BBox  `json:"box,omitempty"`
}

type Feedback struct {
	Helpful   bool      `json:"helpful"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is the persisted, described outcome of one admitted trigger.
type Event struct {
	ID           uuid.UUID   `json:"id"`
	CameraID     string      `json:"camera_id"`
	CameraName   string      `json:"camera_name"`
	Timestamp    time.Time   `json:"timestamp"`
	Description  string      `json:"description"`
	Confidence   int         `json:"confidence"`
	Detections   []Detection `json:"detections"`
	Provider     string      `json:"provider"`
	IsManual     bool        `json:"is_manual"`
	EntityID     *uuid.UUID  `json:"entity_id,omitempty"`
	ThumbnailURL string      `json:"thumbnail_url,omitempty"`
	Feedback     []Feedback  `json:"feedback"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// DetectionTypes returns the distinct detection types in first-seen order.
func (e *Event) DetectionTypes() []string {
	seen := make(map[string]bool, len(e.Detections))
	out := make([]string, 0, len(e.Detections))
	for _, d := range e.Detections {
		k := strings.ToLower(d.Type)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func (e *Event) Validate() error {
	if e.CameraID == "" {
		return fmt.Errorf("%w: camera id is required", ErrInvalidEvent)
	}
	if e.Confidence < 0 || e.Confidence > 100 {
		return fmt.Errorf("%w: confidence %d out of range", ErrInvalidEvent, e.Confidence)
	}
	for i, d := range e.Detections {
		if d.Type == "" {
			return fmt.Errorf("%w: detection %d has no type", ErrInvalidEvent, i)
		}
		if d.Box != nil {
			if err := d.Box.Validate(); err != nil {
				return fmt.Errorf("%w: detection %d: %v", ErrInvalidEvent, i, err)
			}
		}
	}
	return nil
}

type ActionType string

const (
	ActionDashboard ActionType = "dashboard"
	ActionPush      ActionType = "push"
	ActionWebhook   ActionType = "webhook"
)

type WebhookTarget struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type Action struct {
	Type    ActionType     `json:"type" yaml:"type"`
	Webhook *WebhookTarget `json:"webhook,omitempty" yaml:"webhook,omitempty"`
}

// ScheduleSpec is a daily time window. Start and End are "HH:MM"; End before
// Start wraps past midnight. Days uses three-letter names, empty means every day.
type ScheduleSpec struct {
	Start    string   `json:"start" yaml:"start"`
	End      string   `json:"end" yaml:"end"`
	Days     []string `json:"days,omitempty" yaml:"days,omitempty"`
	Timezone string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// ConditionSpec is the declarative form of a rule condition. All fields set on
// one node must hold together.
type ConditionSpec struct {
	All           []ConditionSpec `json:"all,omitempty" yaml:"all,omitempty"`
	Any           []ConditionSpec `json:"any,omitempty" yaml:"any,omitempty"`
	Not           *ConditionSpec  `json:"not,omitempty" yaml:"not,omitempty"`
	ObjectTypes   []string        `json:"object_types,omitempty" yaml:"object_types,omitempty"`
	Cameras       []string        `json:"cameras,omitempty" yaml:"cameras,omitempty"`
	ConfidenceMin *int            `json:"confidence_min,omitempty" yaml:"confidence_min,omitempty"`
	Schedule      *ScheduleSpec   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

type AlertRule struct {
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	Enabled         bool          `json:"enabled" yaml:"-"`
	Conditions      ConditionSpec `json:"conditions" yaml:"conditions"`
	Actions         []Action      `json:"actions" yaml:"actions"`
	CooldownSeconds int           `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at,omitempty" yaml:"-"`
	CreatedAt       time.Time     `json:"created_at" yaml:"created_at"`

	// DecodeErr is set when a stored row's JSON columns could not be decoded.
	DecodeErr error `json:"-" yaml:"-"`
}

func (r *AlertRule) Cooldown() time.Duration {
	if r.CooldownSeconds <= 0 {
		return 0
	}
	return time.Duration(r.CooldownSeconds) * time.Second
}

type DeliveryOutcome string

const (
	OutcomeSuccess DeliveryOutcome = "success"
	OutcomeFailure DeliveryOutcome = "failure"
	OutcomeTimeout DeliveryOutcome = "timeout"
)

type DeliveryAttempt struct {
	ID           int64           `json:"id"`
	RuleID       string          `json:"rule_id"`
	EventID      uuid.UUID       `json:"event_id"`
	ActionType   ActionType      `json:"action_type"`
	Attempt      int             `json:"attempt"`
	Outcome      DeliveryOutcome `json:"outcome"`
	Latency      time.Duration   `json:"latency"`
	ResponseCode int             `json:"response_code,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

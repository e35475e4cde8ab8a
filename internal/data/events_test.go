package data

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvent() *Event {
	return &Event{
		CameraID:    "front-door",
		CameraName:  "Front Door",
		Timestamp:   time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Description: "A courier leaves a package at the door",
		Confidence:  92,
		Detections:  []Detection{{Type: "person"}, {Type: "package", Box: &BBox{X: 0.4, Y: 0.6, W: 0.2, H: 0.2}}},
		Provider:    "openai",
	}
}

func TestEventCommit_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	m := EventModel{DB: db}
	e := newTestEvent()
	id, err := m.Commit(context.Background(), e)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventCommit_RejectsInvalid(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := EventModel{DB: db}

	tests := []struct {
		name   string
		mutate func(e *Event)
	}{
		{"confidence above 100", func(e *Event) { e.Confidence = 101 }},
		{"negative confidence", func(e *Event) { e.Confidence = -1 }},
		{"missing camera", func(e *Event) { e.CameraID = "" }},
		{"bbox outside frame", func(e *Event) { e.Detections[1].Box = &BBox{X: 0.9, Y: 0.1, W: 0.2, H: 0.1} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEvent()
			tc.mutate(e)
			_, err := m.Commit(context.Background(), e)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}

	// Validation happens before any query.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventCommit_CheckViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO events").
		WillReturnError(&pq.Error{Code: "23514", Message: "violates check constraint"})

	_, err = EventModel{DB: db}.Commit(context.Background(), newTestEvent())
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestEventGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM events WHERE id").WillReturnError(sql.ErrNoRows)

	_, err = EventModel{DB: db}.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}

func TestEventGet_DecodesJSONColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	entity := uuid.New()
	ts := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "camera_id", "camera_name", "occurred_at", "description", "confidence",
		"detections", "provider", "is_manual", "entity_id", "thumbnail_url", "feedback",
		"created_at", "updated_at",
	}).AddRow(
		id.String(), "front-door", "Front Door", ts, "Package delivered", 88,
		[]byte(`[{"type":"package"}]`), "gemini", false, entity.String(), "", []byte(`[{"helpful":true,"created_at":"2026-03-04T10:05:00Z"}]`),
		ts, ts,
	)
	mock.ExpectQuery("SELECT (.+) FROM events WHERE id").WillReturnRows(rows)

	e, err := EventModel{DB: db}.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, e.ID)
	assert.Equal(t, []string{"package"}, e.DetectionTypes())
	require.NotNil(t, e.EntityID)
	assert.Equal(t, entity, *e.EntityID)
	require.Len(t, e.Feedback, 1)
	assert.True(t, e.Feedback[0].Helpful)
}

func TestEventAppendFeedback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := EventModel{DB: db}
	id := uuid.New()

	mock.ExpectExec("UPDATE events SET feedback").WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, m.AppendFeedback(context.Background(), id, Feedback{Helpful: true, Note: "correct"}))

	mock.ExpectExec("UPDATE events SET feedback").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, m.AppendFeedback(context.Background(), id, Feedback{Helpful: false}), ErrRecordNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleListRules(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "name", "is_enabled", "conditions", "actions", "cooldown_seconds", "last_triggered_at", "created_at",
	}).AddRow(
		"r1", "Package at door", true,
		[]byte(`{"object_types":["package"],"cameras":["front-door"]}`),
		[]byte(`[{"type":"webhook","webhook":{"url":"http://hooks.local/in"}}]`),
		300, nil, created,
	)
	mock.ExpectQuery("SELECT (.+) FROM alert_rules").WillReturnRows(rows)

	rules, err := RuleModel{DB: db}.ListRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)

	r := rules[0]
	assert.Equal(t, []string{"package"}, r.Conditions.ObjectTypes)
	assert.Equal(t, 5*time.Minute, r.Cooldown())
	require.Len(t, r.Actions, 1)
	assert.Equal(t, ActionWebhook, r.Actions[0].Type)
	assert.Nil(t, r.LastTriggeredAt)
}

func TestRuleListRules_KeepsUndecodableRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "name", "is_enabled", "conditions", "actions", "cooldown_seconds", "last_triggered_at", "created_at",
	}).
		AddRow("good", "Anything", true, []byte(`{}`), []byte(`[{"type":"dashboard"}]`), 0, nil, created).
		AddRow("bad", "Broken", true, []byte(`{"confidence_min":"high"}`), []byte(`[]`), 0, nil, created.Add(time.Second)).
		AddRow("bad-actions", "Broken actions", true, []byte(`{}`), []byte(`{"type":1}`), 0, nil, created.Add(2*time.Second))
	mock.ExpectQuery("SELECT (.+) FROM alert_rules").WillReturnRows(rows)

	rules, err := RuleModel{DB: db}.ListRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.NoError(t, rules[0].DecodeErr)
	assert.ErrorContains(t, rules[1].DecodeErr, "decode conditions")
	assert.ErrorContains(t, rules[2].DecodeErr, "decode actions")
	assert.Nil(t, rules[2].Actions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordAttempt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO delivery_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))

	a := &DeliveryAttempt{
		RuleID:       "r1",
		EventID:      uuid.New(),
		ActionType:   ActionWebhook,
		Attempt:      1,
		Outcome:      OutcomeFailure,
		Latency:      120 * time.Millisecond,
		ResponseCode: 503,
	}
	require.NoError(t, DeliveryModel{DB: db}.RecordAttempt(context.Background(), a))
	assert.Equal(t, int64(7), a.ID)
}

func TestCameraRegistry_Cooldown(t *testing.T) {
	short := 5
	reg := NewCameraRegistry(30*time.Second,
		CameraSource{ID: "a", Name: "A", Enabled: true},
		CameraSource{ID: "b", Name: "B", Enabled: true, CooldownSeconds: &short},
	)

	assert.Equal(t, 30*time.Second, reg.CooldownFor("a"))
	assert.Equal(t, 5*time.Second, reg.CooldownFor("b"))
	assert.Equal(t, 30*time.Second, reg.CooldownFor("unknown"))

	assert.True(t, reg.SetEnabled("a", false))
	c, ok := reg.Camera("a")
	require.True(t, ok)
	assert.False(t, c.Enabled)
	assert.Equal(t, AnalysisSingleFrame, c.AnalysisMode)
	assert.False(t, reg.SetEnabled("missing", false))
}

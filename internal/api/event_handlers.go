package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/rules"
)

type matchResponse struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Repeat   bool   `json:"repeat,omitempty"`
}

func toMatches(ms []rules.RuleMatch) []matchResponse {
	out := make([]matchResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, matchResponse{RuleID: m.Rule.ID, RuleName: m.Rule.Name, Repeat: m.Repeat})
	}
	return out
}

// GET /api/v1/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	e, err := h.Events.Get(r.Context(), id)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// GET /api/v1/events/{id}/thumbnail
func (h *Handler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	b, ok := h.Pipeline.Thumbnails().Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Thumbnail not available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(b)
}

// GET /api/v1/events/{id}/deliveries
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	attempts, err := h.Deliveries.ListForEvent(r.Context(), id)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	if attempts == nil {
		attempts = []data.DeliveryAttempt{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"deliveries": attempts})
}

// POST /api/v1/events/{id}/reanalyze
func (h *Handler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	frames, err := h.readFrames(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid frames")
		return
	}

	e, matches, err := h.Pipeline.Reanalyze(r.Context(), id, frames)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"event": e, "matches": toMatches(matches)})
}

// POST /api/v1/events/{id}/feedback
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	var req struct {
		Helpful *bool  `json:"helpful"`
		Note    string `json:"note"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Helpful == nil {
		respondError(w, http.StatusBadRequest, "helpful is required")
		return
	}

	f := data.Feedback{Helpful: *req.Helpful, Note: strings.TrimSpace(req.Note), CreatedAt: time.Now().UTC()}
	if err := h.Events.AppendFeedback(r.Context(), id, f); err != nil {
		respondPipelineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/rules/test
//
// The body names a stored event ({"event_id": "..."}) or describes one inline.
// Cooldowns are not consulted or changed.
func (h *Handler) TestRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID *uuid.UUID `json:"event_id"`
		data.Event
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	e := &req.Event
	if req.EventID != nil {
		stored, err := h.Events.Get(r.Context(), *req.EventID)
		if err != nil {
			respondPipelineError(w, err)
			return
		}
		e = stored
	} else {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		if err := e.Validate(); err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	matches, err := h.Rules.DryRun(r.Context(), e)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"matches": toMatches(matches)})
}

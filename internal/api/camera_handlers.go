package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/technosupport/ts-events/internal/data"
)

const defaultMaxUpload = 32 << 20

type frameJSON struct {
	Data        []byte    `json:"data"` // base64
	CapturedAt  time.Time `json:"captured_at"`
	MotionScore *float64  `json:"motion_score,omitempty"`
}

type framesRequest struct {
	Frames []frameJSON `json:"frames"`
}

func (h *Handler) maxUpload() int64 {
	if h.MaxUpload > 0 {
		return h.MaxUpload
	}
	return defaultMaxUpload
}

// readFrames accepts multipart uploads (one or more "frame" parts) or a JSON
// body with base64 frames. An empty body yields no frames.
func (h *Handler) readFrames(w http.ResponseWriter, r *http.Request) ([]data.Frame, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload())

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.maxUpload()); err != nil {
			return nil, err
		}
		now := time.Now()
		var frames []data.Frame
		for _, fh := range r.MultipartForm.File["frame"] {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			b, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, err
			}
			frames = append(frames, data.Frame{Data: b, CapturedAt: now})
		}
		return frames, nil
	}

	var req framesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	frames := make([]data.Frame, 0, len(req.Frames))
	for _, f := range req.Frames {
		frames = append(frames, data.Frame{Data: f.Data, CapturedAt: f.CapturedAt, MotionScore: f.MotionScore})
	}
	return frames, nil
}

// GET /api/v1/cameras
func (h *Handler) ListCameras(w http.ResponseWriter, r *http.Request) {
	cams := h.Cameras.All()
	sort.Slice(cams, func(i, j int) bool { return cams[i].ID < cams[j].ID })
	respondJSON(w, http.StatusOK, map[string]any{"cameras": cams})
}

// POST /api/v1/cameras/{id}/analyze
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	frames, err := h.readFrames(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid frames")
		return
	}
	if len(frames) == 0 {
		respondError(w, http.StatusBadRequest, "At least one frame is required")
		return
	}

	e, err := h.Pipeline.AnalyzeNow(r.Context(), chi.URLParam(r, "id"), frames)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

// POST /api/v1/cameras/{id}/enable
func (h *Handler) EnableCamera(w http.ResponseWriter, r *http.Request) {
	if err := h.Pipeline.EnableCamera(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondPipelineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/cameras/{id}/disable
func (h *Handler) DisableCamera(w http.ResponseWriter, r *http.Request) {
	if err := h.Pipeline.DisableCamera(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondPipelineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/cameras/{id}/events?limit=N
func (h *Handler) ListCameraEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	events, err := h.Events.ListRecent(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	if events == nil {
		events = []*data.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

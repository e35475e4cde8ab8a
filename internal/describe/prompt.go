package describe

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/technosupport/ts-events/internal/data"
)

// Description is a well-formed provider answer.
type Description struct {
	Text       string           `json:"description"`
	Who        string           `json:"who,omitempty"`
	What       string           `json:"what,omitempty"`
	Where      string           `json:"where,omitempty"`
	Action     string           `json:"action,omitempty"`
	Confidence int              `json:"confidence"`
	Detections []data.Detection `json:"detections"`

	Provider  string        `json:"provider"`
	Attempts  int           `json:"attempts"`
	Latency   time.Duration `json:"latency"`
	Thumbnail []byte        `json:"-"`
}

const instructionTemplate = `You are reviewing %s from the security camera "%s".
%s
Describe what is happening for a homeowner reading a notification.
Answer with a single JSON object and nothing else, using this shape:
{
  "description": "one or two sentences",
  "who": "people or animals present, empty if none",
  "what": "notable objects, e.g. a package or a vehicle",
  "where": "where in the scene it happens",
  "action": "what they are doing",
  "confidence": 0-100,
  "detections": [{"type": "person|vehicle|package|animal|face|license_plate|other", "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}]
}
Boxes are normalized to the frame (0 to 1). Omit "box" when unsure. Use lowercase detection types.`

// BuildPrompt renders the instruction shared by all providers.
func BuildPrompt(cameraName string, t data.Trigger, frames int) string {
	subject := "a still image"
	if frames > 1 {
		subject = fmt.Sprintf("%d frames in time order", frames)
	}
	var context string
	switch t.Kind {
	case data.TriggerSmartDetection:
		context = "The camera's own detector fired"
		if t.Hint != "" {
			context += fmt.Sprintf(" for %q", t.Hint)
		}
		context += "; confirm or correct it."
	case data.TriggerManual:
		context = "A user asked for an on-demand description."
	default:
		context = "Motion was detected."
	}
	if cameraName == "" {
		cameraName = t.CameraID
	}
	return fmt.Sprintf(instructionTemplate, subject, cameraName, context)
}

type rawDescription struct {
	Description string   `json:"description"`
	Who         string   `json:"who"`
	What        string   `json:"what"`
	Where       string   `json:"where"`
	Action      string   `json:"action"`
	Confidence  *float64 `json:"confidence"`
	Detections  []struct {
		Type string     `json:"type"`
		Box  *data.BBox `json:"box"`
	} `json:"detections"`
}

// ParseResponse extracts a Description from a provider's raw text. Code fences
// and text around the JSON object are tolerated. At least one of who, what,
// where or action and a confidence are required.
func ParseResponse(text string) (*Description, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object", ErrMalformedResponse)
	}

	var raw rawDescription
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if raw.Confidence == nil {
		return nil, fmt.Errorf("%w: missing confidence", ErrMalformedResponse)
	}
	c := *raw.Confidence
	if c > 0 && c < 1 {
		c *= 100
	}
	c = math.Round(c)
	if c < 0 || c > 100 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, *raw.Confidence)
	}

	d := &Description{
		Text:       strings.TrimSpace(raw.Description),
		Who:        strings.TrimSpace(raw.Who),
		What:       strings.TrimSpace(raw.What),
		Where:      strings.TrimSpace(raw.Where),
		Action:     strings.TrimSpace(raw.Action),
		Confidence: int(c),
	}
	if d.Who == "" && d.What == "" && d.Where == "" && d.Action == "" {
		return nil, fmt.Errorf("%w: missing who/what/where/action", ErrMalformedResponse)
	}
	if d.Text == "" {
		d.Text = composeText(d)
	}
	if d.Text == "" {
		return nil, fmt.Errorf("%w: empty description", ErrMalformedResponse)
	}

	for _, det := range raw.Detections {
		typ := strings.ToLower(strings.TrimSpace(det.Type))
		if typ == "" {
			continue
		}
		box := det.Box
		if box != nil && box.Validate() != nil {
			box = nil
		}
		d.Detections = append(d.Detections, data.Detection{Type: typ, Box: box})
	}
	return d, nil
}

func composeText(d *Description) string {
	var parts []string
	for _, p := range []string{d.Who, d.What, d.Action, d.Where} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

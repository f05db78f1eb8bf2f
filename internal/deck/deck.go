package deck

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Slide is one generated slide: a short title plus a self-contained HTML
// fragment for the slide body.
type Slide struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// OutlineItem is one planned slide before generation runs.
type OutlineItem struct {
	ItemID string   `json:"item_id"`
	Title  string   `json:"title"`
	Points []string `json:"points"`
}

// Outline is the full slide plan for a deck, in presentation order.
type Outline struct {
	DeckTitle string        `json:"deck_title"`
	Items     []OutlineItem `json:"items"`
}

// Source modes for a generation request.
const (
	ModePrompt  = "prompt"
	ModeText    = "text"
	ModeOutline = "outline"
)

// Generation run statuses.
const (
	StatusPending    = "pending"
	StatusGenerating = "generating"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// Request is a deck-generation request as received over HTTP or NATS.
type Request struct {
	RequestID      string          `json:"request_id"`
	Title          string          `json:"title"`
	Mode           string          `json:"mode"`
	Input          string          `json:"input"`
	SlideCount     int             `json:"slide_count"`
	Theme          string          `json:"theme"`
	Notes          string          `json:"notes"`
	Outline        []OutlineItem   `json:"outline,omitempty"`
	Customizations json.RawMessage `json:"customizations"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// Normalize fills in missing request fields with sensible defaults. Anything
// that unmarshals comes back as a usable Request.
func Normalize(raw []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(raw, &r); err != nil {
		return Request{}, err
	}

	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}

	if r.Mode == "" {
		r.Mode = ModePrompt
	}

	if r.SlideCount <= 0 {
		slog.Warn("request missing slide count, using default", "request_id", r.RequestID)
		r.SlideCount = 8
	}

	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}

	if r.Customizations == nil {
		r.Customizations = json.RawMessage(`{}`)
	}

	for i := range r.Outline {
		if r.Outline[i].ItemID == "" {
			r.Outline[i].ItemID = uuid.New().String()
		}
	}

	return r, nil
}

// CustomizationField extracts a string field from the customizations JSON.
func (r *Request) CustomizationField(key string) string {
	var m map[string]any
	if err := json.Unmarshal(r.Customizations, &m); err != nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Valid reports whether a normalized request carries enough to generate from.
func (r *Request) Valid() bool {
	switch r.Mode {
	case ModePrompt, ModeText:
		return r.Input != ""
	case ModeOutline:
		return len(r.Outline) > 0
	default:
		return false
	}
}

package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/orator/internal/deck"
)

const outlineInstructions = "You are a presentation planner. Produce a slide outline " +
	"for the requested deck: a deck title, one item per slide with a short title and " +
	"2-4 talking points, and brief narrative notes describing the deck's arc."

// outlineSchema is the structured-output contract for the outlining call.
func outlineSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"deck_title": map[string]any{"type": "string"},
			"notes":      map[string]any{"type": "string"},
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":  map[string]any{"type": "string"},
						"points": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required":             []string{"title", "points"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"deck_title", "notes", "items"},
		"additionalProperties": false,
	}
}

type outlinePayload struct {
	DeckTitle string `json:"deck_title"`
	Notes     string `json:"notes"`
	Items     []struct {
		Title  string   `json:"title"`
		Points []string `json:"points"`
	} `json:"items"`
}

// GenerateOutline plans the deck before slide generation. mode selects how
// input is interpreted: a short prompt to expand, or source text to distill.
func (c *HTTPClient) GenerateOutline(ctx context.Context, mode, input string, slideCount int) (deck.Outline, string, error) {
	var user string
	switch mode {
	case deck.ModeText:
		user = fmt.Sprintf("Outline a %d-slide presentation that covers this source text:\n\n%s", slideCount, input)
	default:
		user = fmt.Sprintf("Outline a %d-slide presentation about: %s", slideCount, input)
	}

	req := generationRequest{
		Model: c.outlineModel,
		Input: []message{
			{Role: "system", Content: outlineInstructions},
			{Role: "user", Content: user},
		},
		Text: &textFormat{Format: map[string]any{
			"type":   "json_schema",
			"name":   "deck_outline",
			"schema": outlineSchema(),
			"strict": true,
		}},
	}

	var resp generationResponse
	if err := c.doJSON(ctx, "POST", "/v1/responses", req, &resp); err != nil {
		return deck.Outline{}, "", fmt.Errorf("outline generation: %w", err)
	}
	if resp.Refusal != "" {
		return deck.Outline{}, "", fmt.Errorf("outline generation refused: %s", resp.Refusal)
	}

	text := outputText(resp)
	if strings.TrimSpace(text) == "" {
		return deck.Outline{}, "", fmt.Errorf("outline generation: empty response")
	}

	var payload outlinePayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return deck.Outline{}, "", fmt.Errorf("parse outline: %w", err)
	}
	if len(payload.Items) == 0 {
		return deck.Outline{}, "", fmt.Errorf("outline generation: no items returned")
	}

	out := deck.Outline{DeckTitle: payload.DeckTitle}
	for _, item := range payload.Items {
		out.Items = append(out.Items, deck.OutlineItem{
			ItemID: uuid.New().String(),
			Title:  item.Title,
			Points: item.Points,
		})
	}
	return out, payload.Notes, nil
}

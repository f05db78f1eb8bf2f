package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// chat pins one server-side conversation. The backend replays the
// conversation on every turn, so callers never re-send prior output.
type chat struct {
	client         *HTTPClient
	conversationID string
	instructions   string
	format         map[string]any
}

// StartChat creates a conversation and returns a session bound to it.
func (c *HTTPClient) StartChat(ctx context.Context, instructions string, schema map[string]any) (Chat, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, "POST", "/v1/conversations", map[string]any{}, &out); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, fmt.Errorf("create conversation: missing id")
	}

	session := &chat{
		client:         c,
		conversationID: strings.TrimSpace(out.ID),
		instructions:   strings.TrimSpace(instructions),
	}
	if schema != nil {
		session.format = map[string]any{
			"type":   "json_schema",
			"name":   "slide_batch",
			"schema": schema,
			"strict": true,
		}
	}
	return session, nil
}

// SendMessageStream issues one conversation turn and forwards output deltas.
// The opening request is retried with linear backoff on transient failures,
// but once any delta has been forwarded the turn cannot be replayed and
// errors become terminal.
func (s *chat) SendMessageStream(ctx context.Context, msg string, onDelta func(delta string)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.client.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 0 {
			delay := s.client.backoff(lastErr, attempt)
			slog.Warn("generation stream retrying",
				"conversation_id", s.conversationID,
				"attempt", attempt,
				"sleep", delay.String(),
				"error", lastErr.Error(),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, streamed, err := s.streamOnce(ctx, msg, onDelta)
		if err == nil {
			return text, nil
		}
		if streamed || !isRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// streamOnce opens the streaming request and reads it to completion.
// streamed reports whether any delta was forwarded before the error.
func (s *chat) streamOnce(ctx context.Context, msg string, onDelta func(delta string)) (string, bool, error) {
	body := generationRequest{
		Model:        s.client.model,
		Conversation: s.conversationID,
		Instructions: s.instructions,
		Input:        []message{{Role: "user", Content: msg}},
		Stream:       true,
	}
	if s.format != nil {
		body.Text = &textFormat{Format: s.format}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.client.baseURL+"/v1/responses", strings.NewReader(string(raw)))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+s.client.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return "", false, httpError(resp, errBody)
	}

	var full strings.Builder
	streamed := false
	err = readSSE(resp.Body, func(event, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(data), &obj); err != nil {
			return nil
		}

		evt := strings.TrimSpace(event)
		if t, ok := obj["type"].(string); ok && strings.TrimSpace(t) != "" {
			evt = strings.TrimSpace(t)
		}

		if r, ok := obj["refusal"].(string); ok && strings.TrimSpace(r) != "" {
			return fmt.Errorf("model refused: %s", r)
		}
		if eAny, ok := obj["error"]; ok && eAny != nil {
			b, _ := json.Marshal(eAny)
			return fmt.Errorf("generation stream error: %s", string(b))
		}

		if d, ok := obj["delta"].(string); ok && d != "" && strings.Contains(evt, "output_text.delta") {
			full.WriteString(d)
			streamed = true
			if onDelta != nil {
				onDelta(d)
			}
		}
		return nil
	})
	if err != nil {
		return "", streamed, err
	}
	return full.String(), streamed, nil
}

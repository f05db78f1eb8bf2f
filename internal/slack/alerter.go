package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Alerter posts generation failure alerts to a Slack channel via
// chat.postMessage.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string

	mu       sync.Mutex
	lastSent time.Time
}

// NewAlerter creates a new Slack alerter.
func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://slack.com/api/chat.postMessage",
	}
}

// GenerationFailure posts a Block Kit message for a failed run. It
// rate-limits to at most one alert per 30 seconds to protect against burst
// storms, and logs rather than returns delivery errors: alerting never
// fails a run.
func (a *Alerter) GenerationFailure(runID, deckTitle string, cause error) {
	a.mu.Lock()
	if time.Since(a.lastSent) < 30*time.Second {
		a.mu.Unlock()
		return
	}
	a.lastSent = time.Now()
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.post(ctx, runID, deckTitle, cause); err != nil {
		slog.Warn("failed to post generation alert", "run_id", runID, "error", err)
	}
}

func (a *Alerter) post(ctx context.Context, runID, deckTitle string, cause error) error {
	title := deckTitle
	if title == "" {
		title = "(untitled)"
	}
	errMsg := "unknown"
	if cause != nil {
		errMsg = cause.Error()
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "Deck Generation Failed",
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Deck:*\n%s", title)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Run:*\n%s", runID)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Error:*\n%s", errMsg)},
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    fmt.Sprintf("Deck generation failed: %s (%s)", title, errMsg),
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	slog.Info("generation alert posted to Slack", "channel", a.channel, "run_id", runID)
	return nil
}

package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/orator/internal/deck"
)

// Client is the generation backend used by the orchestrator and the
// outline stage. Implementations talk to an OpenAI-compatible API.
type Client interface {
	// GenerateOutline runs the structured-output outlining call and returns
	// the slide plan plus the model's narrative notes.
	GenerateOutline(ctx context.Context, mode, input string, slideCount int) (deck.Outline, string, error)

	// StartChat opens a server-side conversation that carries context
	// between turns. Every turn is answered under the given response schema.
	StartChat(ctx context.Context, instructions string, schema map[string]any) (Chat, error)
}

// Chat is one conversation-backed generation session.
type Chat interface {
	// SendMessageStream issues one turn and forwards output deltas as they
	// arrive. It returns the full turn text once the stream ends.
	SendMessageStream(ctx context.Context, message string, onDelta func(delta string)) (string, error)
}

// APIError is a non-2xx response from the generation backend.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("genai http %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// IsRateLimited reports whether err carries an HTTP 429. Rate limits are
// never retried here; the orchestrator halts the run on them.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// isRetryable covers transient failures only. 429 is deliberately excluded,
// and a canceled context is surfaced rather than retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		return code == http.StatusRequestTimeout || (code >= 500 && code <= 599)
	}
	return false
}

// Config holds the backend connection settings, filled from env by the
// config package.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	OutlineModel string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// HTTPClient is the concrete Client over net/http.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	model        string
	outlineModel string
	httpClient   *http.Client

	maxRetries int
	retryDelay time.Duration
}

const maxBackoff = 10 * time.Second

func New(cfg Config) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("genai api key required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o"
	}
	outlineModel := strings.TrimSpace(cfg.OutlineModel)
	if outlineModel == "" {
		outlineModel = model
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &HTTPClient{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		model:        model,
		outlineModel: outlineModel,
		httpClient:   &http.Client{Timeout: timeout},
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textFormat struct {
	Format map[string]any `json:"format,omitempty"`
}

type generationRequest struct {
	Model        string      `json:"model"`
	Conversation string      `json:"conversation,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
	Input        []message   `json:"input"`
	Text         *textFormat `json:"text,omitempty"`
	Stream       bool        `json:"stream,omitempty"`
}

type generationResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func outputText(resp generationResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				out.WriteString(c.Text)
			}
		}
	}
	return out.String()
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpError(resp, raw)
	}
	return raw, nil
}

// doJSON issues a request with linear backoff on transient failures.
// Attempt n sleeps n times the base delay, or Retry-After when longer.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			delay := c.backoff(lastErr, attempt)
			slog.Warn("generation request retrying",
				"path", path,
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"sleep", delay.String(),
				"error", lastErr.Error(),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("decode generation response: %w", uErr)
			}
			return nil
		}

		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *HTTPClient) backoff(err error, attempt int) time.Duration {
	delay := c.retryDelay * time.Duration(attempt)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > delay {
		delay = apiErr.RetryAfter
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func httpError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

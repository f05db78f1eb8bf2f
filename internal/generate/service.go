package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/orator/internal/deck"
	"github.com/MikeSquared-Agency/orator/internal/genai"
	"github.com/MikeSquared-Agency/orator/internal/live"
	"github.com/MikeSquared-Agency/orator/internal/stream"
	"github.com/MikeSquared-Agency/orator/internal/theme"
)

// NATS subjects published by the generation pipeline.
const (
	SubjectDeckStored     = "swarm.orator.deck.stored"
	SubjectGenerateFailed = "swarm.orator.generate.failed"
)

// RunStore abstracts the DB operations the generation service needs.
// Uses primitive types to avoid import cycles with the store package.
type RunStore interface {
	RunIDForRequest(ctx context.Context, requestID string) (string, error)
	InsertRun(ctx context.Context, runID, requestID, status string, request json.RawMessage) error
	UpdateRun(ctx context.Context, runID string, updates map[string]any) error
	InsertDeck(ctx context.Context, deckID, title, themeName, mode, notes string) error
	InsertSlides(ctx context.Context, deckID string, slides []deck.Slide) error
}

// PublishFunc is the callback signature for publishing to NATS.
type PublishFunc func(subject string, data []byte) error

// Alerter is notified when a run fails. It is called on the run's goroutine
// after terminal state is stored, so a slow alert cannot lose run state.
type Alerter interface {
	GenerationFailure(runID, deckTitle string, err error)
}

// Recorder receives run lifecycle counts for process metrics.
type Recorder interface {
	RunStarted()
	RunCompleted(slideCount int, duration time.Duration)
	RunFailed(stage string)
}

// DeckStoredEvent announces a finished deck to the rest of the swarm.
type DeckStoredEvent struct {
	RunID      string `json:"run_id"`
	DeckID     string `json:"deck_id"`
	RequestID  string `json:"request_id"`
	Title      string `json:"title"`
	Theme      string `json:"theme"`
	SlideCount int    `json:"slide_count"`
	Duration   string `json:"duration"`
}

// GenerateFailedEvent announces a run that did not produce a deck.
// BatchIndex is -1 when the failure happened before streaming began.
type GenerateFailedEvent struct {
	RunID      string `json:"run_id"`
	RequestID  string `json:"request_id"`
	Title      string `json:"title"`
	Stage      string `json:"stage"`
	BatchIndex int    `json:"batch_index"`
	Error      string `json:"error"`
}

// Options tunes a Service beyond its required dependencies.
type Options struct {
	Alerter    Alerter
	Metrics    Recorder
	Transforms Transforms
	BatchSize  int
}

// Service owns generation runs end to end: outline, batched slide
// streaming, live snapshots, post-processing, persistence, and the stored /
// failed events. Each run gets one goroutine; Close waits for them.
type Service struct {
	client     genai.Client
	store      RunStore
	hub        *live.Hub
	publish    PublishFunc
	alerter    Alerter
	metrics    Recorder
	transforms Transforms
	batchSize  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a Service wired to the generation backend, store,
// snapshot hub, and NATS publisher.
func NewService(client genai.Client, store RunStore, hub *live.Hub, publish PublishFunc, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		client:     client,
		store:      store,
		hub:        hub,
		publish:    publish,
		alerter:    opts.Alerter,
		metrics:    opts.Metrics,
		transforms: opts.Transforms,
		batchSize:  opts.BatchSize,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close stops accepting work and waits for in-flight runs to wind down.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// StartRun registers a generation run for the request and launches it in the
// background. Requests are idempotent on request_id: a repeat returns the
// existing run without starting another.
func (s *Service) StartRun(ctx context.Context, req deck.Request) (string, error) {
	if s.ctx.Err() != nil {
		return "", fmt.Errorf("generate: service is shutting down")
	}
	if !req.Valid() {
		return "", fmt.Errorf("generate: invalid request %s (mode %q)", req.RequestID, req.Mode)
	}

	existing, err := s.store.RunIDForRequest(ctx, req.RequestID)
	if err != nil {
		return "", fmt.Errorf("generate: check request: %w", err)
	}
	if existing != "" {
		slog.Info("generate: duplicate request, reusing run",
			"request_id", req.RequestID,
			"run_id", existing,
		)
		return existing, nil
	}

	runID := uuid.New().String()
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("generate: marshal request: %w", err)
	}
	if err := s.store.InsertRun(ctx, runID, req.RequestID, deck.StatusPending, raw); err != nil {
		return "", fmt.Errorf("generate: insert run: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RunStarted()
	}

	s.wg.Add(1)
	go s.run(runID, req)
	return runID, nil
}

func (s *Service) run(runID string, req deck.Request) {
	defer s.wg.Done()
	ctx := s.ctx
	started := time.Now().UTC()
	th := theme.Resolve(req.Theme)

	s.updateRun(ctx, runID, map[string]any{
		"status":     deck.StatusGenerating,
		"started_at": started,
	})
	s.hub.Broadcast(live.Snapshot{RunID: runID, Status: deck.StatusGenerating, BatchIndex: -1})

	outline, notes, err := s.resolveOutline(ctx, req)
	if err != nil {
		s.fail(runID, req, req.Title, "outline", -1, started, err)
		return
	}
	title := req.Title
	if title == "" {
		title = outline.DeckTitle
	}
	if title == "" {
		title = "Untitled Deck"
	}

	chat, err := s.client.StartChat(ctx, buildInstructions(th), slidesSchema())
	if err != nil {
		s.fail(runID, req, title, "chat", -1, started, err)
		return
	}

	// Structural check: every turn must grow the deck. The check runs in
	// the orchestrator's goroutine, so it keeps its own buffer.
	var checkBuf strings.Builder
	lastCount := 0
	turnCheck := func(batch int, turnText string) error {
		checkBuf.WriteString(turnText)
		parsed := stream.ParseLive(checkBuf.String(), false)
		if len(parsed.CompleteSlides) <= lastCount {
			return errors.New("turn produced no new slides")
		}
		lastCount = len(parsed.CompleteSlides)
		s.updateRun(ctx, runID, map[string]any{
			"batches_done": batch + 1,
			"slide_count":  lastCount,
		})
		return nil
	}

	orch := NewOrchestrator(chat, Params{
		Title:          title,
		Outline:        outline.Items,
		Notes:          notes,
		Theme:          th.DisplayName,
		Customizations: string(req.Customizations),
		BatchSize:      s.batchSize,
		TurnCheck:      turnCheck,
	})
	s.updateRun(ctx, runID, map[string]any{"batches_total": orch.Batches()})

	slog.Info("generate: run started",
		"run_id", runID,
		"request_id", req.RequestID,
		"title", title,
		"theme", th.Name,
		"outline_items", len(outline.Items),
		"batches", orch.Batches(),
	)

	var buf strings.Builder
	for chunk := range orch.Run(ctx) {
		switch {
		case chunk.Err != nil:
			batch := -1
			var be *BatchError
			if errors.As(chunk.Err, &be) {
				batch = be.BatchIndex
			}
			stage := "stream"
			if genai.IsRateLimited(chunk.Err) {
				stage = "rate_limited"
			}
			s.fail(runID, req, title, stage, batch, started, chunk.Err)
			return

		case chunk.Done:
			final := stream.ParseLive(buf.String(), true)
			slides := s.transforms.Apply(final.CompleteSlides)
			if len(slides) == 0 {
				s.fail(runID, req, title, "empty_deck", -1, started, errors.New("stream completed with no slides"))
				return
			}
			if err := s.persist(ctx, runID, req, title, th.Name, notes, slides, orch.Batches()-1, started); err != nil {
				s.fail(runID, req, title, "persist", -1, started, err)
				return
			}
			return

		default:
			buf.WriteString(chunk.Text)
			parsed := stream.ParseLive(buf.String(), false)
			_, batch := orch.State()
			s.hub.Broadcast(live.Snapshot{
				RunID:          runID,
				Status:         deck.StatusGenerating,
				BatchIndex:     batch,
				SlideCount:     len(parsed.CompleteSlides),
				Slides:         parsed.CompleteSlides,
				InProgressHTML: parsed.InProgressHTML,
			})
		}
	}

	// Channel closed without a terminal chunk: the service is shutting down.
	slog.Warn("generate: run interrupted", "run_id", runID)
	s.fail(runID, req, title, "interrupted", -1, started, errors.New("service shut down mid-run"))
}

// resolveOutline uses the request's own outline in outline mode and asks the
// backend for one otherwise.
func (s *Service) resolveOutline(ctx context.Context, req deck.Request) (deck.Outline, string, error) {
	if req.Mode == deck.ModeOutline {
		return deck.Outline{DeckTitle: req.Title, Items: req.Outline}, req.Notes, nil
	}
	outline, notes, err := s.client.GenerateOutline(ctx, req.Mode, req.Input, req.SlideCount)
	if err != nil {
		return deck.Outline{}, "", err
	}
	if req.Notes != "" {
		notes = req.Notes
	}
	return outline, notes, nil
}

func (s *Service) persist(ctx context.Context, runID string, req deck.Request, title, themeName, notes string, slides []deck.Slide, finalBatch int, started time.Time) error {
	deckID := uuid.New().String()
	if err := s.store.InsertDeck(ctx, deckID, title, themeName, req.Mode, notes); err != nil {
		return fmt.Errorf("insert deck: %w", err)
	}
	if err := s.store.InsertSlides(ctx, deckID, slides); err != nil {
		return fmt.Errorf("insert slides: %w", err)
	}

	completed := time.Now().UTC()
	duration := completed.Sub(started)
	s.updateRun(ctx, runID, map[string]any{
		"status":       deck.StatusComplete,
		"deck_id":      deckID,
		"slide_count":  len(slides),
		"completed_at": completed,
		"duration_ms":  duration.Milliseconds(),
	})

	s.hub.Broadcast(live.Snapshot{
		RunID:      runID,
		Status:     deck.StatusComplete,
		BatchIndex: finalBatch,
		SlideCount: len(slides),
		Slides:     slides,
	})
	s.hub.Forget(runID)

	slog.Info("generate: deck stored",
		"run_id", runID,
		"deck_id", deckID,
		"title", title,
		"slides", len(slides),
		"duration", duration.Round(time.Millisecond).String(),
	)

	evt := DeckStoredEvent{
		RunID:      runID,
		DeckID:     deckID,
		RequestID:  req.RequestID,
		Title:      title,
		Theme:      themeName,
		SlideCount: len(slides),
		Duration:   duration.Round(time.Millisecond).String(),
	}
	s.publishEvent(SubjectDeckStored, evt, runID)

	if s.metrics != nil {
		s.metrics.RunCompleted(len(slides), duration)
	}
	return nil
}

// fail records a terminal failure. It writes with a background context so
// terminal state survives service shutdown.
func (s *Service) fail(runID string, req deck.Request, title, stage string, batchIndex int, started time.Time, cause error) {
	slog.Error("generate: run failed",
		"run_id", runID,
		"request_id", req.RequestID,
		"stage", stage,
		"batch", batchIndex,
		"error", cause,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	completed := time.Now().UTC()
	s.updateRun(ctx, runID, map[string]any{
		"status":       deck.StatusFailed,
		"error":        cause.Error(),
		"completed_at": completed,
		"duration_ms":  completed.Sub(started).Milliseconds(),
	})

	s.hub.Broadcast(live.Snapshot{
		RunID:      runID,
		Status:     deck.StatusFailed,
		BatchIndex: batchIndex,
		Error:      cause.Error(),
	})
	s.hub.Forget(runID)

	evt := GenerateFailedEvent{
		RunID:      runID,
		RequestID:  req.RequestID,
		Title:      title,
		Stage:      stage,
		BatchIndex: batchIndex,
		Error:      cause.Error(),
	}
	s.publishEvent(SubjectGenerateFailed, evt, runID)

	if s.alerter != nil {
		s.alerter.GenerationFailure(runID, title, cause)
	}
	if s.metrics != nil {
		s.metrics.RunFailed(stage)
	}
}

// updateRun logs and swallows store errors: run bookkeeping must not take
// down the pipeline.
func (s *Service) updateRun(ctx context.Context, runID string, updates map[string]any) {
	if err := s.store.UpdateRun(ctx, runID, updates); err != nil {
		slog.Error("generate: failed to update run", "run_id", runID, "error", err)
	}
}

func (s *Service) publishEvent(subject string, evt any, runID string) {
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Error("generate: failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := s.publish(subject, payload); err != nil {
		slog.Error("generate: failed to publish event",
			"subject", subject,
			"run_id", runID,
			"error", err,
		)
		return
	}
	slog.Info("generate: published to NATS", "subject", subject, "run_id", runID)
}

// buildInstructions is the system prompt for a slide generation chat.
func buildInstructions(th theme.Theme) string {
	var sb strings.Builder
	sb.WriteString(`You are a presentation slide builder.

Respond with a single JSON object of the form {"slides": [{"title": "...", "content": "..."}]} and nothing else.
Each content value is one complete, self-contained HTML fragment for a 1280x720 slide with all styling inline.
Produce exactly one slide per outline item you are given, in the given order.
For imagery, emit <img> tags whose src is genimg:// followed by a URL-encoded description of the image you want.
For charts, emit a <quickchart config='<Chart.js config JSON>'> tag in place of an <img>.
`)
	fmt.Fprintf(&sb, "\nTheme: %s. Headings in %s, body text in %s.\n",
		th.DisplayName, th.Fonts.Heading, th.Fonts.Body)
	fmt.Fprintf(&sb, "Palette: background %s, surface %s, primary %s, accent %s, text %s.\n",
		th.Colors.Background, th.Colors.Surface, th.Colors.Primary, th.Colors.Accent, th.Colors.Text)
	if th.Guidance != "" {
		sb.WriteString(strings.TrimSpace(th.Guidance))
		sb.WriteString("\n")
	}
	return sb.String()
}

// slidesSchema is the JSON schema the backend's structured output is held to.
func slidesSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"slides": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":   map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
					},
					"required":             []string{"title", "content"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"slides"},
		"additionalProperties": false,
	}
}

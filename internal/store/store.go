package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/orator/internal/deck"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// InsertDeck creates the deck row. Slides follow via InsertSlides.
func (s *Store) InsertDeck(ctx context.Context, deckID, title, themeName, mode, notes string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO decks (deck_id, title, theme, mode, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, deckID, title, themeName, mode, notes)
	if err != nil {
		return fmt.Errorf("insert deck: %w", err)
	}
	return nil
}

// InsertSlides batch-inserts a deck's slides into deck_slides.
func (s *Store) InsertSlides(ctx context.Context, deckID string, slides []deck.Slide) error {
	if len(slides) == 0 {
		return nil
	}

	rows := make([][]any, len(slides))
	for i, sl := range slides {
		rows[i] = []any{deckID, i, sl.Title, sl.Content}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"deck_slides"},
		[]string{"deck_id", "position", "title", "html"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy slides: %w", err)
	}

	slog.Debug("inserted slides", "deck_id", deckID, "count", len(slides))
	return nil
}

// InsertRun records a new generation run.
func (s *Store) InsertRun(ctx context.Context, runID, requestID, status string, request json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO generation_runs (run_id, request_id, status, request, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, runID, requestID, status, request)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun applies individual field updates to a run.
func (s *Store) UpdateRun(ctx context.Context, runID string, updates map[string]any) error {
	for field, value := range updates {
		var q string
		switch field {
		case "status":
			q = `UPDATE generation_runs SET status = $2, updated_at = now() WHERE run_id = $1`
		case "deck_id":
			q = `UPDATE generation_runs SET deck_id = $2, updated_at = now() WHERE run_id = $1`
		case "batches_total":
			q = `UPDATE generation_runs SET batches_total = $2, updated_at = now() WHERE run_id = $1`
		case "batches_done":
			q = `UPDATE generation_runs SET batches_done = $2, updated_at = now() WHERE run_id = $1`
		case "slide_count":
			q = `UPDATE generation_runs SET slide_count = $2, updated_at = now() WHERE run_id = $1`
		case "error":
			q = `UPDATE generation_runs SET error = $2, updated_at = now() WHERE run_id = $1`
		case "started_at":
			q = `UPDATE generation_runs SET started_at = $2, updated_at = now() WHERE run_id = $1`
		case "completed_at":
			q = `UPDATE generation_runs SET completed_at = $2, updated_at = now() WHERE run_id = $1`
		case "duration_ms":
			q = `UPDATE generation_runs SET duration_ms = $2, updated_at = now() WHERE run_id = $1`
		default:
			continue
		}
		if _, err := s.pool.Exec(ctx, q, runID, value); err != nil {
			return fmt.Errorf("update run field %s: %w", field, err)
		}
	}
	return nil
}

// RunIDForRequest returns the run already registered for a request_id, or ""
// when the request is new.
func (s *Store) RunIDForRequest(ctx context.Context, requestID string) (string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id FROM generation_runs WHERE request_id = $1 ORDER BY created_at DESC LIMIT 1`,
		requestID,
	)
	var runID string
	if err := row.Scan(&runID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return runID, nil
}

// GetRun returns a single generation run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, request_id, status, request, deck_id, batches_total, batches_done,
		       slide_count, error, started_at, completed_at, duration_ms, created_at, updated_at
		FROM generation_runs WHERE run_id = $1
	`, runID)

	var (
		rid, reqID, status           string
		request                      json.RawMessage
		deckID, errStr               *string
		batchesTotal, batchesDone    *int
		slideCount                   *int
		startedAt, completedAt       *time.Time
		durationMs                   *int64
		createdAt, updatedAt         time.Time
	)
	if err := row.Scan(&rid, &reqID, &status, &request, &deckID, &batchesTotal, &batchesDone, &slideCount, &errStr, &startedAt, &completedAt, &durationMs, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	result := map[string]any{
		"run_id":     rid,
		"request_id": reqID,
		"status":     status,
		"request":    request,
		"created_at": createdAt,
		"updated_at": updatedAt,
	}
	if deckID != nil {
		result["deck_id"] = *deckID
	}
	if batchesTotal != nil {
		result["batches_total"] = *batchesTotal
	}
	if batchesDone != nil {
		result["batches_done"] = *batchesDone
	}
	if slideCount != nil {
		result["slide_count"] = *slideCount
	}
	if errStr != nil {
		result["error"] = *errStr
	}
	if startedAt != nil {
		result["started_at"] = *startedAt
	}
	if completedAt != nil {
		result["completed_at"] = *completedAt
	}
	if durationMs != nil {
		result["duration_ms"] = *durationMs
	}
	return result, nil
}

// GetDeck returns a deck row by ID.
func (s *Store) GetDeck(ctx context.Context, deckID string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT d.deck_id, d.title, d.theme, d.mode, d.notes, d.created_at,
		       (SELECT count(*) FROM deck_slides ds WHERE ds.deck_id = d.deck_id)
		FROM decks d WHERE d.deck_id = $1
	`, deckID)

	var (
		did, title, theme, mode string
		notes                   *string
		createdAt               time.Time
		slideCount              int
	)
	if err := row.Scan(&did, &title, &theme, &mode, &notes, &createdAt, &slideCount); err != nil {
		return nil, err
	}

	result := map[string]any{
		"deck_id":     did,
		"title":       title,
		"theme":       theme,
		"mode":        mode,
		"slide_count": slideCount,
		"created_at":  createdAt,
	}
	if notes != nil {
		result["notes"] = *notes
	}
	return result, nil
}

// GetDeckSlides returns a deck's slides in presentation order.
func (s *Store) GetDeckSlides(ctx context.Context, deckID string) ([]deck.Slide, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT title, html FROM deck_slides WHERE deck_id = $1 ORDER BY position`,
		deckID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slides []deck.Slide
	for rows.Next() {
		var sl deck.Slide
		if err := rows.Scan(&sl.Title, &sl.Content); err != nil {
			return nil, err
		}
		slides = append(slides, sl)
	}
	return slides, rows.Err()
}

// QueryDecks returns recent decks with a limit.
func (s *Store) QueryDecks(ctx context.Context, limit int) ([]map[string]any, error) {
	q := `
		SELECT d.deck_id, d.title, d.theme, d.mode, d.created_at,
		       (SELECT count(*) FROM deck_slides ds WHERE ds.deck_id = d.deck_id)
		FROM decks d ORDER BY d.created_at DESC
	`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var (
			did, title, theme, mode string
			createdAt               time.Time
			slideCount              int
		)
		if err := rows.Scan(&did, &title, &theme, &mode, &createdAt, &slideCount); err != nil {
			return nil, err
		}
		results = append(results, map[string]any{
			"deck_id":     did,
			"title":       title,
			"theme":       theme,
			"mode":        mode,
			"slide_count": slideCount,
			"created_at":  createdAt,
		})
	}
	return results, rows.Err()
}

// QueryRuns returns runs filtered by status with a limit.
func (s *Store) QueryRuns(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	q := `
		SELECT run_id, request_id, status, deck_id, batches_total, batches_done,
		       slide_count, error, created_at
		FROM generation_runs
	`
	args := []any{}
	argN := 1

	if status != "" {
		q += fmt.Sprintf(` WHERE status = $%d`, argN)
		args = append(args, status)
		argN++
	}

	q += ` ORDER BY created_at DESC`

	if limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d`, argN)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var (
			rid, reqID, status        string
			deckID, errStr            *string
			batchesTotal, batchesDone *int
			slideCount                *int
			createdAt                 time.Time
		)
		if err := rows.Scan(&rid, &reqID, &status, &deckID, &batchesTotal, &batchesDone, &slideCount, &errStr, &createdAt); err != nil {
			return nil, err
		}
		r := map[string]any{
			"run_id":     rid,
			"request_id": reqID,
			"status":     status,
			"created_at": createdAt,
		}
		if deckID != nil {
			r["deck_id"] = *deckID
		}
		if batchesTotal != nil {
			r["batches_total"] = *batchesTotal
		}
		if batchesDone != nil {
			r["batches_done"] = *batchesDone
		}
		if slideCount != nil {
			r["slide_count"] = *slideCount
		}
		if errStr != nil {
			r["error"] = *errStr
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteDeck removes a deck and its slides. Runs keep their deck_id for
// history; lookups on a deleted deck return no rows.
func (s *Store) DeleteDeck(ctx context.Context, deckID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM deck_slides WHERE deck_id = $1`, deckID); err != nil {
		return fmt.Errorf("delete slides: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM decks WHERE deck_id = $1`, deckID)
	if err != nil {
		return fmt.Errorf("delete deck: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetRunStats aggregates run counts by status plus overall throughput
// figures for the stats endpoint.
func (s *Store) GetRunStats(ctx context.Context) (map[string]any, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM generation_runs GROUP BY status`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byStatus := map[string]int64{}
	var total int64
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		byStatus[status] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		SELECT count(*), coalesce(avg(duration_ms), 0), coalesce(sum(slide_count), 0)
		FROM generation_runs WHERE status = 'complete'
	`)
	var (
		completed   int64
		avgDuration float64
		slides      int64
	)
	if err := row.Scan(&completed, &avgDuration, &slides); err != nil {
		return nil, err
	}

	return map[string]any{
		"runs_total":      total,
		"runs_by_status":  byStatus,
		"avg_duration_ms": int64(avgDuration),
		"slides_stored":   slides,
	}, nil
}

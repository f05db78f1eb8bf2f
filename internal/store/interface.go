package store

import (
	"context"
	"encoding/json"

	"github.com/MikeSquared-Agency/orator/internal/deck"
)

// DataStore is the interface consumed by the worker, the generation
// service, and the API. The concrete implementation is *Store (pgx-backed).
type DataStore interface {
	InsertDeck(ctx context.Context, deckID, title, themeName, mode, notes string) error
	InsertSlides(ctx context.Context, deckID string, slides []deck.Slide) error
	InsertRun(ctx context.Context, runID, requestID, status string, request json.RawMessage) error
	UpdateRun(ctx context.Context, runID string, updates map[string]any) error
	RunIDForRequest(ctx context.Context, requestID string) (string, error)
	GetRun(ctx context.Context, runID string) (map[string]any, error)
	GetDeck(ctx context.Context, deckID string) (map[string]any, error)
	GetDeckSlides(ctx context.Context, deckID string) ([]deck.Slide, error)
	QueryDecks(ctx context.Context, limit int) ([]map[string]any, error)
	QueryRuns(ctx context.Context, status string, limit int) ([]map[string]any, error)
	DeleteDeck(ctx context.Context, deckID string) error
	GetRunStats(ctx context.Context) (map[string]any, error)
	Close()
}

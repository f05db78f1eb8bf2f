package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/orator/internal/deck"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore for testing.
type MockStore struct {
	mu sync.Mutex

	Decks  map[string]map[string]any
	Slides map[string][]deck.Slide
	Runs   map[string]map[string]any
	ByReq  map[string]string

	InsertDeckErr error
	InsertRunErr  error
	UpdateRunErr  error
	DeleteDeckErr error

	InsertDeckCalls int
	InsertRunCalls  int
	UpdateRunCalls  int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Decks:  make(map[string]map[string]any),
		Slides: make(map[string][]deck.Slide),
		Runs:   make(map[string]map[string]any),
		ByReq:  make(map[string]string),
	}
}

func (m *MockStore) InsertDeck(_ context.Context, deckID, title, themeName, mode, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertDeckCalls++
	if m.InsertDeckErr != nil {
		return m.InsertDeckErr
	}
	m.Decks[deckID] = map[string]any{
		"deck_id": deckID,
		"title":   title,
		"theme":   themeName,
		"mode":    mode,
		"notes":   notes,
	}
	return nil
}

func (m *MockStore) InsertSlides(_ context.Context, deckID string, slides []deck.Slide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Slides[deckID] = append(m.Slides[deckID], slides...)
	return nil
}

func (m *MockStore) InsertRun(_ context.Context, runID, requestID, status string, request json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertRunCalls++
	if m.InsertRunErr != nil {
		return m.InsertRunErr
	}
	m.Runs[runID] = map[string]any{
		"run_id":     runID,
		"request_id": requestID,
		"status":     status,
		"request":    request,
	}
	m.ByReq[requestID] = runID
	return nil
}

func (m *MockStore) UpdateRun(_ context.Context, runID string, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateRunCalls++
	if m.UpdateRunErr != nil {
		return m.UpdateRunErr
	}
	run, ok := m.Runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	for k, v := range updates {
		run[k] = v
	}
	return nil
}

func (m *MockStore) RunIDForRequest(_ context.Context, requestID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ByReq[requestID], nil
}

func (m *MockStore) GetRun(_ context.Context, runID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.Runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	cp := make(map[string]any, len(run))
	for k, v := range run {
		cp[k] = v
	}
	return cp, nil
}

func (m *MockStore) GetDeck(_ context.Context, deckID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Decks[deckID]
	if !ok {
		return nil, fmt.Errorf("deck %s not found", deckID)
	}
	cp := make(map[string]any, len(d)+1)
	for k, v := range d {
		cp[k] = v
	}
	cp["slide_count"] = len(m.Slides[deckID])
	return cp, nil
}

func (m *MockStore) GetDeckSlides(_ context.Context, deckID string) ([]deck.Slide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Decks[deckID]; !ok {
		return nil, fmt.Errorf("deck %s not found", deckID)
	}
	out := make([]deck.Slide, len(m.Slides[deckID]))
	copy(out, m.Slides[deckID])
	return out, nil
}

func (m *MockStore) QueryDecks(_ context.Context, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []map[string]any
	for id, d := range m.Decks {
		cp := make(map[string]any, len(d)+1)
		for k, v := range d {
			cp[k] = v
		}
		cp["slide_count"] = len(m.Slides[id])
		results = append(results, cp)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MockStore) QueryRuns(_ context.Context, status string, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []map[string]any
	for _, r := range m.Runs {
		if status != "" {
			if s, ok := r["status"].(string); ok && s != status {
				continue
			}
		}
		results = append(results, r)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MockStore) DeleteDeck(_ context.Context, deckID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteDeckErr != nil {
		return m.DeleteDeckErr
	}
	if _, ok := m.Decks[deckID]; !ok {
		return fmt.Errorf("deck %s: %w", deckID, pgx.ErrNoRows)
	}
	delete(m.Decks, deckID)
	delete(m.Slides, deckID)
	return nil
}

func (m *MockStore) GetRunStats(_ context.Context) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byStatus := map[string]int64{}
	for _, r := range m.Runs {
		if s, ok := r["status"].(string); ok {
			byStatus[s]++
		}
	}
	return map[string]any{
		"runs_total":     int64(len(m.Runs)),
		"runs_by_status": byStatus,
	}, nil
}

func (m *MockStore) Close() {}

// SetRun seeds a run for testing.
func (m *MockStore) SetRun(runID string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Runs[runID] = data
	if reqID, ok := data["request_id"].(string); ok {
		m.ByReq[reqID] = runID
	}
}

// SetDeck seeds a deck and its slides for testing.
func (m *MockStore) SetDeck(deckID string, data map[string]any, slides []deck.Slide) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Decks[deckID] = data
	m.Slides[deckID] = slides
}

// RunStatus returns a run's current status.
func (m *MockStore) RunStatus(runID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.Runs[runID]; ok {
		if s, ok := r["status"].(string); ok {
			return s
		}
	}
	return ""
}

package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/orator/internal/deck"
	"github.com/MikeSquared-Agency/orator/internal/genai"
)

// FakeTurn is one canned chat turn: its streamed deltas, or an error.
type FakeTurn struct {
	Deltas []string
	Err    error
}

// FakeGenAI satisfies genai.Client and genai.Chat with canned responses,
// replaying one FakeTurn per conversation turn.
type FakeGenAI struct {
	mu sync.Mutex

	Outline    deck.Outline
	Notes      string
	OutlineErr error
	ChatErr    error
	Turns      []FakeTurn

	OutlineCalls int
	Instructions string
	Messages     []string
}

func (f *FakeGenAI) GenerateOutline(_ context.Context, mode, input string, slideCount int) (deck.Outline, string, error) {
	f.mu.Lock()
	f.OutlineCalls++
	f.mu.Unlock()
	if f.OutlineErr != nil {
		return deck.Outline{}, "", f.OutlineErr
	}
	return f.Outline, f.Notes, nil
}

func (f *FakeGenAI) StartChat(_ context.Context, instructions string, schema map[string]any) (genai.Chat, error) {
	f.mu.Lock()
	f.Instructions = instructions
	f.mu.Unlock()
	if f.ChatErr != nil {
		return nil, f.ChatErr
	}
	return f, nil
}

func (f *FakeGenAI) SendMessageStream(ctx context.Context, message string, onDelta func(delta string)) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	f.mu.Lock()
	idx := len(f.Messages)
	f.Messages = append(f.Messages, message)
	f.mu.Unlock()

	if idx >= len(f.Turns) {
		return "", fmt.Errorf("unexpected turn %d", idx)
	}
	turn := f.Turns[idx]
	var sb strings.Builder
	for _, d := range turn.Deltas {
		if onDelta != nil {
			onDelta(d)
		}
		sb.WriteString(d)
	}
	if turn.Err != nil {
		return "", turn.Err
	}
	return sb.String(), nil
}

// SlideBatch builds a one-batch slide payload for canned turns.
func SlideBatch(titles ...string) string {
	var sb strings.Builder
	sb.WriteString(`{"slides":[`)
	for i, title := range titles {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"title":%q,"content":"<section>%s</section>"}`, title, title)
	}
	sb.WriteString(`]}`)
	return sb.String()
}

package generate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/orator/internal/deck"
	"github.com/MikeSquared-Agency/orator/internal/genai"
)

// Chunk is one unit of streamed generation output. Done is true only on
// the chunk that concludes the final batch. A chunk carrying Err ends the
// stream; nothing follows it.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// Orchestrator states, observable while a run is in flight.
const (
	StateIdle         = "idle"
	StateTurnPending  = "turn_pending"
	StateStreaming    = "streaming"
	StateTurnComplete = "turn_complete"
	StateDone         = "done"
)

// DefaultBatchSize bounds each turn to a slide count the backend can answer
// in one response.
const DefaultBatchSize = 4

// BatchError reports the batch index at which generation halted.
type BatchError struct {
	BatchIndex int
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.BatchIndex, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Params configures one generation run.
type Params struct {
	Title          string
	Outline        []deck.OutlineItem
	Notes          string
	Theme          string
	Customizations string
	BatchSize      int

	// TurnCheck runs after each turn's stream drains, with the full text
	// that turn produced. A returned error is treated as a contract
	// violation and fails the run at that batch.
	TurnCheck func(batchIndex int, turnText string) error
}

// Orchestrator walks the outline in fixed-size batches, one conversation
// turn per batch, strictly sequentially. The backend's conversational state
// carries context between turns, so prior slide HTML is never re-sent.
type Orchestrator struct {
	chat   genai.Chat
	params Params

	mu         sync.Mutex
	state      string
	batchIndex int
}

func NewOrchestrator(chat genai.Chat, p Params) *Orchestrator {
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultBatchSize
	}
	return &Orchestrator{chat: chat, params: p, state: StateIdle}
}

// State returns the current state and the batch index it refers to.
func (o *Orchestrator) State() (string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.batchIndex
}

func (o *Orchestrator) setState(state string, batch int) {
	o.mu.Lock()
	o.state = state
	o.batchIndex = batch
	o.mu.Unlock()
}

// Batches returns how many turns the outline needs.
func (o *Orchestrator) Batches() int {
	return (len(o.params.Outline) + o.params.BatchSize - 1) / o.params.BatchSize
}

// Run starts the turn loop and returns the chunk stream. The channel closes
// after the Done chunk, an Err chunk, or context cancellation. Callers must
// drain it promptly: deltas are forwarded as they arrive from the backend.
func (o *Orchestrator) Run(ctx context.Context) <-chan Chunk {
	out := make(chan Chunk)
	go o.run(ctx, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, out chan<- Chunk) {
	defer close(out)

	batches := o.Batches()
	for i := 0; i < batches; i++ {
		o.setState(StateTurnPending, i)
		msg := o.turnMessage(i)

		o.setState(StateStreaming, i)
		text, err := o.chat.SendMessageStream(ctx, msg, func(delta string) {
			o.emit(ctx, out, Chunk{Text: delta})
		})
		if err != nil {
			o.emit(ctx, out, Chunk{Err: &BatchError{BatchIndex: i, Err: err}})
			return
		}

		if o.params.TurnCheck != nil {
			if err := o.params.TurnCheck(i, text); err != nil {
				o.emit(ctx, out, Chunk{Err: &BatchError{BatchIndex: i, Err: err}})
				return
			}
		}
		o.setState(StateTurnComplete, i)
	}

	o.setState(StateDone, batches-1)
	o.emit(ctx, out, Chunk{Done: true})
}

func (o *Orchestrator) emit(ctx context.Context, out chan<- Chunk, c Chunk) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}

// turnMessage builds the user message for one batch. Turn 0 carries the
// full deck context; later turns send only the next outline slice plus a
// consistency instruction.
func (o *Orchestrator) turnMessage(batch int) string {
	start := batch * o.params.BatchSize
	end := min(start+o.params.BatchSize, len(o.params.Outline))
	items := o.params.Outline[start:end]

	var sb strings.Builder
	if batch == 0 {
		fmt.Fprintf(&sb, "Deck: %s\nTheme: %s\n", o.params.Title, o.params.Theme)
		if o.params.Notes != "" {
			fmt.Fprintf(&sb, "Narrative notes: %s\n", o.params.Notes)
		}
		if c := strings.TrimSpace(o.params.Customizations); c != "" && c != "{}" {
			fmt.Fprintf(&sb, "Customizations: %s\n", c)
		}
		sb.WriteString("\nFull outline:\n")
		for _, item := range o.params.Outline {
			fmt.Fprintf(&sb, "- %s\n", item.Title)
		}
		sb.WriteString("\nGenerate slides for these outline items:\n")
	} else {
		sb.WriteString("Continue the deck. Keep layout, fonts, and colors consistent with the slides already produced.\nGenerate slides for these outline items:\n")
	}

	for _, item := range items {
		fmt.Fprintf(&sb, "- %s", item.Title)
		if len(item.Points) > 0 {
			fmt.Fprintf(&sb, ": %s", strings.Join(item.Points, "; "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

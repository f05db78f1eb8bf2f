package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/MikeSquared-Agency/orator/internal/deck"
)

type fakeStarter struct {
	mu       sync.Mutex
	requests []deck.Request
	err      error
}

func (f *fakeStarter) StartRun(_ context.Context, req deck.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return "run-" + req.RequestID, nil
}

func TestHandleMessage_StartsRun(t *testing.T) {
	starter := &fakeStarter{}
	w := &Worker{starter: starter, ctx: context.Background()}

	payload, _ := json.Marshal(map[string]any{
		"request_id": "req-1",
		"mode":       "prompt",
		"input":      "deck about bees",
	})
	msg := &fakeMsg{subject: SubjectGenerateRequest, data: payload}

	w.handleMessage(msg)

	if len(starter.requests) != 1 {
		t.Fatalf("expected 1 run started, got %d", len(starter.requests))
	}
	if starter.requests[0].RequestID != "req-1" {
		t.Errorf("unexpected request: %+v", starter.requests[0])
	}
	if !msg.acked {
		t.Error("message not acked after successful start")
	}
}

func TestHandleMessage_MalformedPayloadAcked(t *testing.T) {
	starter := &fakeStarter{}
	w := &Worker{starter: starter, ctx: context.Background()}

	msg := &fakeMsg{subject: SubjectGenerateRequest, data: []byte("{not json")}
	w.handleMessage(msg)

	if len(starter.requests) != 0 {
		t.Fatal("malformed payload reached the starter")
	}
	if !msg.acked {
		t.Error("malformed message should be acked, not redelivered")
	}
}

func TestHandleMessage_InvalidRequestAcked(t *testing.T) {
	starter := &fakeStarter{}
	w := &Worker{starter: starter, ctx: context.Background()}

	// Prompt mode with no input never becomes valid.
	payload, _ := json.Marshal(map[string]any{
		"request_id": "req-2",
		"mode":       "prompt",
	})
	msg := &fakeMsg{subject: SubjectGenerateRequest, data: payload}
	w.handleMessage(msg)

	if len(starter.requests) != 0 {
		t.Fatal("invalid request reached the starter")
	}
	if !msg.acked {
		t.Error("invalid message should be acked, not redelivered")
	}
}

func TestHandleMessage_StartErrorNaks(t *testing.T) {
	starter := &fakeStarter{err: errors.New("store down")}
	w := &Worker{starter: starter, ctx: context.Background()}

	payload, _ := json.Marshal(map[string]any{
		"request_id": "req-3",
		"mode":       "prompt",
		"input":      "deck about bees",
	})
	msg := &fakeMsg{subject: SubjectGenerateRequest, data: payload}
	w.handleMessage(msg)

	if msg.acked {
		t.Error("failed start should not ack")
	}
	if !msg.naked {
		t.Error("failed start should nak for redelivery")
	}
}

// fakeMsg implements jetstream.Msg for unit testing without a real NATS connection.
type fakeMsg struct {
	subject string
	data    []byte
	acked   bool
	naked   bool
}

func (m *fakeMsg) Data() []byte                       { return m.data }
func (m *fakeMsg) Subject() string                    { return m.subject }
func (m *fakeMsg) Ack() error                         { m.acked = true; return nil }
func (m *fakeMsg) Nak() error                         { m.naked = true; return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration) error { return nil }
func (m *fakeMsg) InProgress() error                  { return nil }
func (m *fakeMsg) Term() error                        { return nil }
func (m *fakeMsg) TermWithReason(reason string) error { return nil }
func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return nil, nil
}
func (m *fakeMsg) Headers() nats.Header                { return nil }
func (m *fakeMsg) Reply() string                       { return "" }
func (m *fakeMsg) DoubleAck(ctx context.Context) error { return nil }

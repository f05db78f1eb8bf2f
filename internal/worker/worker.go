package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/MikeSquared-Agency/orator/internal/deck"
)

// Subjects the worker consumes and announces on.
const (
	SubjectGenerateRequest = "swarm.orator.generate.request"
	SubjectRegistered      = "swarm.agent.orator.registered"
)

const (
	streamName   = "ORATOR_REQUESTS"
	consumerName = "orator-generate"
)

// Starter launches generation runs for normalized requests.
type Starter interface {
	StartRun(ctx context.Context, req deck.Request) (string, error)
}

// Worker consumes generation requests from NATS and hands them to the
// generation service. Results flow back out as generate's stored / failed
// events over the same connection.
type Worker struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	starter Starter
	subs    []jetstream.ConsumeContext
	ctx     context.Context
	cancel  context.CancelFunc
}

// New connects to NATS. Consumption does not begin until Start.
func New(natsURL string) (*Worker, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	wctx, wcancel := context.WithCancel(context.Background())
	return &Worker{
		nc:     nc,
		js:     js,
		ctx:    wctx,
		cancel: wcancel,
	}, nil
}

// Start binds the durable consumer to the starter and announces the agent
// to the swarm.
func (w *Worker) Start(starter Starter) error {
	w.starter = starter
	ctx := context.Background()

	if err := w.ensureStream(ctx); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}
	if err := w.subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("subscribed to stream", "stream", streamName, "consumer", consumerName)

	w.announce()
	return nil
}

func (w *Worker) ensureStream(ctx context.Context) error {
	_, err := w.js.Stream(ctx, streamName)
	if err == nil {
		return nil
	}

	_, err = w.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{SubjectGenerateRequest},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}

	slog.Info("created stream", "name", streamName, "subject", SubjectGenerateRequest)
	return nil
}

func (w *Worker) subscribe(ctx context.Context) error {
	consumer, err := w.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		w.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}

	w.subs = append(w.subs, cc)
	return nil
}

func (w *Worker) handleMessage(msg jetstream.Msg) {
	req, err := deck.Normalize(msg.Data())
	if err != nil {
		slog.Warn("malformed generation request, skipping",
			"subject", msg.Subject(),
			"error", err,
		)
		// Ack to avoid redelivery of permanently broken messages.
		_ = msg.Ack()
		return
	}

	if !req.Valid() {
		slog.Warn("invalid generation request, skipping",
			"request_id", req.RequestID,
			"mode", req.Mode,
		)
		_ = msg.Ack()
		return
	}

	runID, err := w.starter.StartRun(w.ctx, req)
	if err != nil {
		// Registration failures are store-side and transient; let the
		// durable consumer redeliver up to MaxDeliver.
		slog.Error("worker: failed to start run",
			"request_id", req.RequestID,
			"error", err,
		)
		_ = msg.Nak()
		return
	}

	slog.Info("worker: run started", "request_id", req.RequestID, "run_id", runID)
	if err := msg.Ack(); err != nil {
		slog.Warn("failed to ack message", "subject", msg.Subject(), "error", err)
	}
}

// announce publishes the agent-registered lifecycle event.
func (w *Worker) announce() {
	payload, _ := json.Marshal(map[string]any{
		"agent_id":     "orator",
		"capabilities": []string{"deck.generate"},
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
	if err := w.nc.Publish(SubjectRegistered, payload); err != nil {
		slog.Warn("failed to announce registration", "error", err)
		return
	}
	slog.Info("announced registration", "subject", SubjectRegistered)
}

// Publish sends a message to NATS (shared with the generation service for
// its stored / failed events).
func (w *Worker) Publish(subject string, data []byte) error {
	return w.nc.Publish(subject, data)
}

// Close drains subscriptions and closes the NATS connection.
func (w *Worker) Close() {
	w.cancel()
	for _, cc := range w.subs {
		cc.Stop()
	}
	w.nc.Drain()
}

// Package eventbus forwards committed engine events to NATS JetStream.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"intentlend/core/events"
	telemetry "intentlend/observability/otel"
)

const (
	// StreamName is the JetStream stream holding engine events.
	StreamName = "INTENTLEND_EVENTS"
	// SubjectPrefix roots every published subject; the event type follows.
	SubjectPrefix = "intentlend.events"

	defaultBuffer = 1024
)

// Message is the wire payload published per event.
type Message struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  time.Time         `json:"timestamp"`
}

// JetStreamPublisher is the subset of jetstream.JetStream the publisher uses.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher is an events.Emitter that queues committed events and publishes
// them from Run. Emit never blocks the engine; a full queue drops the event
// and counts it.
type Publisher struct {
	js      JetStreamPublisher
	queue   chan Message
	seq     atomic.Uint64
	dropped atomic.Uint64
	nowFn   func() time.Time
	logger  *slog.Logger
}

func NewPublisher(js JetStreamPublisher, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Publisher{
		js:     js,
		queue:  make(chan Message, buffer),
		nowFn:  time.Now,
		logger: slog.Default().With("component", "eventbus"),
	}
}

func (p *Publisher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger.With("component", "eventbus")
	}
}

// Emit implements events.Emitter. Events that cannot be flattened are ignored.
func (p *Publisher) Emit(ev events.Event) {
	record, ok := ev.(events.Record)
	if !ok {
		return
	}
	flat := record.Event()
	if flat == nil {
		return
	}
	msg := Message{
		ID:         uuid.NewString(),
		Sequence:   p.seq.Add(1),
		Type:       flat.Type,
		Attributes: flat.Attributes,
		Timestamp:  p.nowFn().UTC(),
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		p.logger.Warn("event bus queue full, dropping event", "type", msg.Type, "sequence", msg.Sequence)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Run publishes queued events until ctx is cancelled. Publish failures are
// logged and skipped; consumers can rebuild from engine queries.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.queue:
			if err := p.publish(ctx, msg); err != nil {
				p.logger.Warn("event publish failed", "type", msg.Type, "sequence", msg.Sequence, "error", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	ctx, span := telemetry.Tracer().Start(ctx, "eventbus.publish", trace.WithAttributes(
		attribute.String("event.type", msg.Type),
		attribute.Int64("event.sequence", int64(msg.Sequence)),
	))
	defer span.End()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err = p.js.Publish(ctx, Subject(msg.Type), data, jetstream.WithMsgID(msg.ID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
	}
	return err
}

// Subject maps an event type such as loan.created to its NATS subject.
func Subject(eventType string) string {
	token := strings.NewReplacer(" ", "_", "*", "_", ">", "_").Replace(eventType)
	return SubjectPrefix + "." + token
}

// Connect dials url and returns a JetStream context with the event stream ensured.
func Connect(ctx context.Context, url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url, nats.Name("intentlend"))
	if err != nil {
		return nil, nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("eventbus: jetstream: %w", err)
	}
	if err := EnsureStream(ctx, js); err != nil {
		nc.Close()
		return nil, nil, err
	}
	return nc, js, nil
}

// EnsureStream creates or updates the engine event stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("eventbus: ensure stream: %w", err)
	}
	return nil
}

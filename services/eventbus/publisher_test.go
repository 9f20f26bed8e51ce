package eventbus

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"intentlend/core/events"
)

type published struct {
	subject string
	data    []byte
}

type fakeJetStream struct {
	mu   sync.Mutex
	msgs []published
	done chan struct{}
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	if f.done != nil {
		f.done <- struct{}{}
	}
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.msgs))}, nil
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestPublisherForwardsRecords(t *testing.T) {
	js := &fakeJetStream{done: make(chan struct{}, 4)}
	pub := NewPublisher(js, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pub.Run(ctx) }()

	pub.Emit(events.LoanClosed{OrderID: 9, Status: "repaid"})
	pub.Emit(bareEvent{})

	select {
	case <-js.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}

	js.mu.Lock()
	defer js.mu.Unlock()
	require.Len(t, js.msgs, 1)
	require.Equal(t, "intentlend.events.loan.closed", js.msgs[0].subject)
	var msg Message
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &msg))
	require.Equal(t, events.TypeLoanClosed, msg.Type)
	require.Equal(t, "9", msg.Attributes["orderId"])
	require.Equal(t, uint64(1), msg.Sequence)
	require.NotEmpty(t, msg.ID)
}

func TestPublisherDropsWhenQueueFull(t *testing.T) {
	pub := NewPublisher(&fakeJetStream{}, 1)
	pub.Emit(events.PenaltySettled{Amount: big.NewInt(1)})
	pub.Emit(events.PenaltySettled{Amount: big.NewInt(2)})
	require.Equal(t, uint64(1), pub.Dropped())
}

func TestSubjectSanitisesWildcards(t *testing.T) {
	require.Equal(t, "intentlend.events.escrow.reserved", Subject(events.TypeFundsReserved))
	require.Equal(t, "intentlend.events.a_b_", Subject("a*b>"))
}

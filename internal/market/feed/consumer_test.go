package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"

	"github.com/emberworks/duskspire/internal/market"
	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

type appliedEvent struct {
	resourceType string
	kind         market.EventKind
	descriptor   string
}

type fakeApplier struct {
	applied []appliedEvent
	err     error
}

func (f *fakeApplier) ApplyEvent(_ context.Context, resourceType string, kind market.EventKind, descriptor string) (market.Rate, error) {
	f.applied = append(f.applied, appliedEvent{resourceType: resourceType, kind: kind, descriptor: descriptor})
	return market.Rate{ResourceType: resourceType}, f.err
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

var _ sarama.ConsumerGroupSession = (*fakeSession)(nil)

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string           { return "member-1" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {
}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {
}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

var _ sarama.ConsumerGroupClaim = (*fakeClaim)(nil)

func (c *fakeClaim) Topic() string                            { return "world-events" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func eventMessage(offset int64, payload string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:  "world-events",
		Offset: offset,
		Value:  []byte(payload),
	}
}

func runClaim(t *testing.T, applier Applier, messages ...*sarama.ConsumerMessage) (*fakeSession, error) {
	t.Helper()
	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(messages))}
	for _, msg := range messages {
		claim.messages <- msg
	}
	close(claim.messages)

	h := &handler{applier: applier}
	return session, h.ConsumeClaim(session, claim)
}

func TestConsumeClaimAppliesEvents(t *testing.T) {
	applier := &fakeApplier{}

	session, err := runClaim(t, applier,
		eventMessage(10, `{"resource_type":"iron_ore","kind":"scarcity","descriptor":"dragon raid"}`),
		eventMessage(11, `{"resource_type":"leather","kind":"surplus"}`),
	)
	if err != nil {
		t.Fatalf("consume claim: %v", err)
	}

	if len(applier.applied) != 2 {
		t.Fatalf("expected 2 applied events, got %d", len(applier.applied))
	}
	first := applier.applied[0]
	if first.resourceType != "iron_ore" || first.kind != market.EventScarcity || first.descriptor != "dragon raid" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if len(session.marked) != 2 || session.marked[0] != 10 || session.marked[1] != 11 {
		t.Fatalf("expected offsets 10,11 marked, got %v", session.marked)
	}
}

func TestConsumeClaimSkipsMalformedMessages(t *testing.T) {
	applier := &fakeApplier{}

	session, err := runClaim(t, applier,
		eventMessage(5, `{not json`),
		eventMessage(6, `{"resource_type":"iron_ore","kind":"scarcity"}`),
	)
	if err != nil {
		t.Fatalf("consume claim: %v", err)
	}

	if len(applier.applied) != 1 {
		t.Fatalf("expected 1 applied event, got %d", len(applier.applied))
	}
	// The malformed message is still marked so the partition advances.
	if len(session.marked) != 2 {
		t.Fatalf("expected both offsets marked, got %v", session.marked)
	}
}

func TestConsumeClaimSkipsUnresolvableEvents(t *testing.T) {
	applier := &fakeApplier{err: apperrors.New(apperrors.CodeNotFound, "exchange rate not found")}

	session, err := runClaim(t, applier,
		eventMessage(7, `{"resource_type":"ghost_dust","kind":"scarcity"}`),
	)
	if err != nil {
		t.Fatalf("consume claim: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected offset marked, got %v", session.marked)
	}
}

func TestConsumeClaimStopsOnStoreFault(t *testing.T) {
	applier := &fakeApplier{err: apperrors.New(apperrors.CodeStoreUnavailable, "write rate failed")}

	session, err := runClaim(t, applier,
		eventMessage(8, `{"resource_type":"iron_ore","kind":"scarcity"}`),
		eventMessage(9, `{"resource_type":"iron_ore","kind":"surplus"}`),
	)
	if !apperrors.IsCode(err, apperrors.CodeStoreUnavailable) {
		t.Fatalf("expected STORE_UNAVAILABLE, got %v", err)
	}
	// The failed message must not be marked; it replays after reconnect.
	if len(session.marked) != 0 {
		t.Fatalf("expected no offsets marked, got %v", session.marked)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("expected consumption to stop after the failure, applied %d", len(applier.applied))
	}
}

func TestConsumeClaimStopsOnSessionCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	h := &handler{applier: &fakeApplier{}}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestNewConsumerValidatesOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "no brokers", opts: Options{Topic: "world-events", Group: "duskspire"}},
		{name: "no topic", opts: Options{Brokers: []string{"localhost:9092"}, Group: "duskspire"}},
		{name: "no group", opts: Options{Brokers: []string{"localhost:9092"}, Topic: "world-events"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConsumer(tt.opts, &fakeApplier{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHandleWrapsApplierFault(t *testing.T) {
	h := &handler{applier: &fakeApplier{err: errors.New("boom")}}

	err := h.handle(context.Background(), eventMessage(1, `{"resource_type":"iron_ore","kind":"scarcity"}`))
	if err == nil {
		t.Fatal("expected error")
	}
}

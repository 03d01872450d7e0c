// Package feed consumes world-event messages from Kafka and applies them to
// the market engine. Events are produced by the world simulation (raids,
// harvests, wars) and fan into rate movements.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/IBM/sarama"

	"github.com/emberworks/duskspire/internal/market"
	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

// Applier is the slice of the market engine the feed needs.
type Applier interface {
	ApplyEvent(ctx context.Context, resourceType string, kind market.EventKind, descriptor string) (market.Rate, error)
}

// Message is the wire form of one world event.
type Message struct {
	ResourceType string `json:"resource_type"`
	Kind         string `json:"kind"`
	Descriptor   string `json:"descriptor,omitempty"`
}

// Consumer reads world events from a Kafka consumer group and applies each
// one to the engine. Offsets are marked only after the event is applied or
// deliberately skipped, so a crash replays at-least-once and the engine's
// CAS loop absorbs the duplicates as ordinary contention.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler *handler
}

// Options configures the Kafka connection.
type Options struct {
	Brokers []string
	Topic   string
	Group   string
}

// NewConsumer joins the consumer group on the configured brokers.
func NewConsumer(opts Options, applier Applier) (*Consumer, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if strings.TrimSpace(opts.Topic) == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if strings.TrimSpace(opts.Group) == "" {
		return nil, fmt.Errorf("group is required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_6_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(opts.Brokers, opts.Group, cfg)
	if err != nil {
		return nil, fmt.Errorf("join consumer group: %w", err)
	}
	return &Consumer{
		group:   group,
		topics:  []string{opts.Topic},
		handler: &handler{applier: applier},
	}, nil
}

// Run consumes until the context is canceled. Rebalances restart the claim
// loop, so Consume is called in a loop per the sarama contract.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.group.Consume(ctx, c.topics, c.handler); err != nil {
			return fmt.Errorf("consume: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	if c == nil || c.group == nil {
		return nil
	}
	return c.group.Close()
}

type handler struct {
	applier Applier
}

var _ sarama.ConsumerGroupHandler = (*handler)(nil)

func (h *handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(session.Context(), msg); err != nil {
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle applies one event. Malformed or unresolvable messages are logged
// and skipped rather than returned, so one bad message cannot stall the
// partition. Store outages are returned, stopping consumption until the
// group reconnects and replays.
func (h *handler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event Message
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Printf("market feed skipping malformed message topic=%s offset=%d err=%v", msg.Topic, msg.Offset, err)
		return nil
	}

	_, err := h.applier.ApplyEvent(ctx, event.ResourceType, market.EventKind(event.Kind), event.Descriptor)
	switch {
	case err == nil:
		return nil
	case apperrors.IsCode(err, apperrors.CodeNotFound),
		apperrors.IsCode(err, apperrors.CodeMarketUnknownEvent):
		log.Printf("market feed skipping unresolvable event resource_type=%s kind=%s offset=%d err=%v",
			event.ResourceType, event.Kind, msg.Offset, err)
		return nil
	default:
		return fmt.Errorf("apply event resource_type=%s kind=%s: %w", event.ResourceType, event.Kind, err)
	}
}

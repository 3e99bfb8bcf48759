// Package amqp relays committed events between nodes of a multi-instance
// deployment over RabbitMQ, so a session connected to node A still
// receives a broadcast originating from a submit accepted on node B.
// Handlers follow a generic panic-recovery and locality-filtering
// pattern before dispatching into the local broadcast registry.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/server/broadcast"
)

const committedEventsExchange = "sync_engine.committed_events"

// Relay publishes locally-committed events to the exchange and consumes
// the exchange back into the local broadcast registry, skipping delivery
// for sessions this relay itself just broadcast to locally.
type Relay struct {
	logger    *slog.Logger
	registry  *broadcast.Registry
	publisher message.Publisher
	router    *message.Router
	nodeID    string
}

// Config is the subset of amqp.Config a Relay needs; left out of the
// watermill type directly so callers don't have to import it.
type Config struct {
	AmqpURI string
}

// New builds a Relay, wiring a durable fanout-exchange publisher and a
// per-node queue subscriber.
func New(cfg Config, logger *slog.Logger, registry *broadcast.Registry, nodeID string) (*Relay, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	pubConfig := amqp.NewDurablePubSubConfig(cfg.AmqpURI, nil)
	pubConfig.Exchange.GenerateName = func(topic string) string { return committedEventsExchange }
	pubConfig.Exchange.Type = "fanout"
	pubConfig.Queue.GenerateName = func(topic string) string {
		return fmt.Sprintf("%s.%s", committedEventsExchange, nodeID)
	}

	publisher, err := amqp.NewPublisher(pubConfig, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("amqp relay: build publisher: %w", err)
	}
	subscriber, err := amqp.NewSubscriber(pubConfig, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("amqp relay: build subscriber: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("amqp relay: build router: %w", err)
	}

	r := &Relay{logger: logger, registry: registry, publisher: publisher, router: router, nodeID: nodeID}

	router.AddNoPublisherHandler(
		"committed_events_relay_"+nodeID,
		committedEventsExchange,
		subscriber,
		r.handle,
	)

	return r, nil
}

// Run blocks until ctx is cancelled or the router fails.
func (r *Relay) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Close stops the router and the underlying publisher.
func (r *Relay) Close() error {
	if err := r.router.Close(); err != nil {
		return err
	}
	return r.publisher.Close()
}

// PublishCommitted broadcasts ev to every other node in the cluster. It
// does not deliver locally; the origin node already did that via its
// in-process broadcast.Registry.
func (r *Relay) PublishCommitted(ctx context.Context, ev model.CommittedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("amqp relay: marshal committed event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("x-origin-node", r.nodeID)
	msg.SetContext(ctx)
	return r.publisher.Publish(committedEventsExchange, msg)
}

func (r *Relay) handle(msg *message.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("AMQP_RELAY_PANIC_RECOVERED", "err", rec, "stack", string(debug.Stack()), "msg_id", msg.UUID)
			err = nil
		}
	}()

	if msg.Metadata.Get("x-origin-node") == r.nodeID {
		return nil
	}

	var ev model.CommittedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		r.logger.Error("AMQP_RELAY_DECODE_FAILED", "err", err, "msg_id", msg.UUID)
		return nil
	}

	r.registry.Broadcast(msg.Context(), "", ev)
	return nil
}

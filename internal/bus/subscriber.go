package bus

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var deliveredBatches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bus_delivered_batches_total",
		Help: "Event batches delivered to this subscriber, by outcome",
	},
	[]string{"outcome"},
)

// Handler receives one decoded batch together with the topic it arrived on.
type Handler func(topic string, msgs []Message)

// Subscriber attaches a Handler to a set of topics. Parse failures are
// logged and dropped; the bus gives at-most-once delivery so handlers must
// be idempotent.
type Subscriber struct {
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
	subs   []*nats.Subscription
}

func NewSubscriber(nc *nats.Conn, prefix string, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		nc:     nc,
		prefix: prefix,
		logger: logger.With().Str("component", "bus-subscriber").Logger(),
	}
}

// Subscribe registers handler on every topic. Delivery order is FIFO per
// topic on a single publisher.
func (s *Subscriber) Subscribe(topics []string, handler Handler) error {
	for _, topic := range topics {
		subject := s.prefix + "." + topic
		sub, err := s.nc.Subscribe(subject, func(m *nats.Msg) {
			topic := strings.TrimPrefix(m.Subject, s.prefix+".")
			msgs, err := Decode(m.Data)
			if err != nil {
				deliveredBatches.WithLabelValues("parse_error").Inc()
				s.logger.Warn().Err(err).Str("topic", topic).Msg("dropping undecodable event batch")
				return
			}
			deliveredBatches.WithLabelValues("ok").Inc()
			handler(topic, msgs)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Info().Str("topic", topic).Msg("subscribed")
	}
	return nil
}

// Close drains all subscriptions.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
}

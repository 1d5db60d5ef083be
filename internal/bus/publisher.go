package bus

import (
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	publishedBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_published_batches_total",
			Help: "Event batches published, by topic class",
		},
		[]string{"topic"},
	)

	publishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_publish_errors_total",
			Help: "Event batches that failed to publish",
		},
	)
)

// Publisher sends archived event batches to the pub/sub bus. Sends are
// fire-and-forget: a failed publish is logged and counted, never surfaced
// to the write pipeline that triggered it.
type Publisher struct {
	mu     sync.Mutex
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

func NewPublisher(nc *nats.Conn, prefix string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		nc:     nc,
		prefix: prefix,
		logger: logger.With().Str("component", "bus-publisher").Logger(),
	}
}

func (p *Publisher) subject(topic string) string {
	return p.prefix + "." + topic
}

// Publish encodes msgs and sends them on topic. Best-effort.
func (p *Publisher) Publish(topic string, msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	frame, err := Encode(msgs)
	if err != nil {
		publishErrors.Inc()
		p.logger.Error().Err(err).Str("topic", topic).Msg("encode event batch")
		return
	}

	p.mu.Lock()
	err = p.nc.Publish(p.subject(topic), frame)
	p.mu.Unlock()

	if err != nil {
		publishErrors.Inc()
		p.logger.Error().Err(err).Str("topic", topic).Msg("publish event batch")
		return
	}
	publishedBatches.WithLabelValues(topic).Inc()
	p.logger.Debug().Str("topic", topic).Int("messages", len(msgs)).Msg("published event batch")
}

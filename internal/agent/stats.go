package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
	"github.com/ponyhq/pony/internal/tsdb"
)

// statConcurrency bounds the per-tick fan-out against the Xray API.
const statConcurrency = 8

type statSource interface {
	UserStats(ctx context.Context, email string) (model.ConnectionStat, error)
	InboundStats(ctx context.Context, tag model.ProtoTag) (InboundStat, error)
}

type statPusher interface {
	PushStat(ctx context.Context, id uuid.UUID, stat model.ConnectionStat) error
}

type carbonSink interface {
	Send(records []tsdb.Record) error
}

// StatCollector polls per-user and per-inbound counters from the dataplane,
// mirrors them into the cache, pushes changed connection counters to the
// orchestrator and ships everything to carbon.
type StatCollector struct {
	env      string
	hostname string
	inbounds []model.ProtoTag
	cache    *cache.Cache
	source   statSource
	api      statPusher
	carbon   carbonSink
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewStatCollector(node *model.Node, c *cache.Cache, source statSource, api statPusher, carbon carbonSink, interval time.Duration, logger zerolog.Logger) *StatCollector {
	var inbounds []model.ProtoTag
	for tag := range node.Inbounds {
		if tag.IsXray() {
			inbounds = append(inbounds, tag)
		}
	}
	return &StatCollector{
		env:      node.Env,
		hostname: node.Hostname,
		inbounds: inbounds,
		cache:    c,
		source:   source,
		api:      api,
		carbon:   carbon,
		interval: interval,
		logger:   logger.With().Str("component", "stats").Logger(),
		now:      time.Now,
	}
}

func (s *StatCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Collect(ctx)
		}
	}
}

// Collect runs one polling pass.
func (s *StatCollector) Collect(ctx context.Context) {
	now := s.now()
	conns := s.cache.Connections(func(c *model.Connection) bool {
		return c.Proto.Tag.IsXray() && !c.IsDeleted
	})

	var (
		mu      sync.Mutex
		records []tsdb.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statConcurrency)

	for _, conn := range conns {
		g.Go(func() error {
			stat, err := s.source.UserStats(gctx, conn.Email())
			if err != nil {
				s.logger.Warn().Err(err).Str("conn_id", conn.ID.String()).Msg("user stat poll failed")
				return nil
			}
			if stat != conn.Stat {
				s.cache.UpdateStat(conn.ID, stat)
				if err := s.api.PushStat(gctx, conn.ID, stat); err != nil {
					s.logger.Warn().Err(err).Str("conn_id", conn.ID.String()).Msg("stat push failed")
				}
			}

			prefix := fmt.Sprintf("%s.%s.%s.conn_stat", s.env, s.hostname, conn.ID)
			mu.Lock()
			records = append(records,
				tsdb.Record{Path: prefix + ".uplink", Value: float64(stat.Uplink), TS: now},
				tsdb.Record{Path: prefix + ".downlink", Value: float64(stat.Downlink), TS: now},
				tsdb.Record{Path: prefix + ".online", Value: float64(stat.Online), TS: now},
			)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for _, tag := range s.inbounds {
		stat, err := s.source.InboundStats(ctx, tag)
		if err != nil {
			s.logger.Warn().Err(err).Str("inbound", string(tag)).Msg("inbound stat poll failed")
			continue
		}
		prefix := fmt.Sprintf("%s.%s.%s.inbound_stat", s.env, s.hostname, tag)
		records = append(records,
			tsdb.Record{Path: prefix + ".uplink", Value: float64(stat.Uplink), TS: now},
			tsdb.Record{Path: prefix + ".downlink", Value: float64(stat.Downlink), TS: now},
			tsdb.Record{Path: prefix + ".user_count", Value: float64(stat.UserCount), TS: now},
		)
	}

	if err := s.carbon.Send(records); err != nil {
		s.logger.Warn().Err(err).Msg("carbon send failed")
	}
}

package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
	"github.com/ponyhq/pony/internal/tsdb"
)

// trialCooldown is how long an expired trial stays suspended before it is
// re-armed with a fresh daily window.
const trialCooldown = 24 * time.Hour

// QuotaEnforcer suspends trial connections that exceed their daily traffic
// limit and re-arms them after the cooldown. Expiry publishes a delete event
// so the dataplane drops the user immediately; reactivation publishes a
// create event to provision it again.
type QuotaEnforcer struct {
	conns    ConnStorage
	cache    *cache.Cache
	series   Series
	pub      EventPublisher
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewQuotaEnforcer(conns ConnStorage, c *cache.Cache, series Series, pub EventPublisher, interval time.Duration, logger zerolog.Logger) *QuotaEnforcer {
	return &QuotaEnforcer{
		conns:    conns,
		cache:    c,
		series:   series,
		pub:      pub,
		interval: interval,
		logger:   logger.With().Str("component", "quota").Logger(),
		now:      time.Now,
	}
}

func (q *QuotaEnforcer) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Sweep(ctx)
		}
	}
}

// Sweep examines every live trial connection once.
func (q *QuotaEnforcer) Sweep(ctx context.Context) {
	if q.series == nil {
		return
	}
	trials := q.cache.Connections(func(c *model.Connection) bool {
		return c.IsTrial && !c.IsDeleted
	})
	now := q.now()

	for _, c := range trials {
		switch c.Status {
		case model.ConnActive:
			if c.DailyLimitMB <= 0 {
				continue
			}
			over, err := q.overQuota(ctx, c, now)
			if err != nil {
				q.logger.Warn().Err(err).Str("conn_id", c.ID.String()).Msg("quota probe failed")
				continue
			}
			if over {
				q.transition(ctx, c, model.ConnExpired, bus.ActionDelete, now)
			}

		case model.ConnExpired:
			if now.Sub(c.ModifiedAt) >= trialCooldown {
				q.transition(ctx, c, model.ConnActive, bus.ActionCreate, now)
			}
		}
	}
}

// overQuota sums the connection's uplink over its current daily window. Node
// placement can move, so the host segment is a wildcard.
func (q *QuotaEnforcer) overQuota(ctx context.Context, c *model.Connection, now time.Time) (bool, error) {
	since := now.Add(-trialCooldown)
	if c.ModifiedAt.After(since) {
		since = c.ModifiedAt
	}
	path := fmt.Sprintf("%s.*.%s.conn_stat.uplink", c.Env, c.ID)
	used, err := q.series.SumSince(ctx, path, since)
	if errors.Is(err, tsdb.ErrNoData) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return used/(1<<20) > float64(c.DailyLimitMB), nil
}

func (q *QuotaEnforcer) transition(ctx context.Context, c *model.Connection, status model.ConnectionStatus, action bus.Action, now time.Time) {
	if err := q.conns.SetStatus(ctx, c.ID, status, now); err != nil {
		q.logger.Error().Err(err).Str("conn_id", c.ID.String()).Msg("persist trial status")
		return
	}
	c.Status = status
	c.ModifiedAt = now
	q.cache.ReplaceConnection(c)
	q.pub.Publish(bus.TopicFor(c), []bus.Message{bus.FromConnection(action, c)})

	q.logger.Info().
		Str("conn_id", c.ID.String()).
		Str("status", string(status)).
		Msg("trial quota transition")
}

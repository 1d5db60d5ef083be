package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegisterPgxPoolMetrics publishes the orchestrator's connection pool state
// as gauges, sampled on scrape.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool) {
	gauges := []struct {
		name string
		help string
		read func(*pgxpool.Stat) int32
	}{
		{"pgxpool_acquired_conns", "Connections currently checked out of the pool", (*pgxpool.Stat).AcquiredConns},
		{"pgxpool_idle_conns", "Connections sitting idle in the pool", (*pgxpool.Stat).IdleConns},
		{"pgxpool_total_conns", "Connections the pool holds, idle and acquired", (*pgxpool.Stat).TotalConns},
		{"pgxpool_max_conns", "Configured pool ceiling", (*pgxpool.Stat).MaxConns},
	}
	for _, g := range gauges {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{Name: g.name, Help: g.help}, func() float64 {
			return float64(g.read(pool.Stat()))
		})
	}
}

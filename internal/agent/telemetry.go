package agent

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/tsdb"
)

// Telemetry samples host metrics from procfs and sysfs and ships them to
// carbon, together with the heartbeat the orchestrator's health sweep
// watches for.
type Telemetry struct {
	env      string
	hostname string
	nodeID   uuid.UUID
	iface    string
	carbon   carbonSink
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	procRoot string
	sysRoot  string
	prevCPU  map[string]cpuSample
	prevTx   uint64
	prevRx   uint64
	prevAt   time.Time
}

func NewTelemetry(env, hostname string, nodeID uuid.UUID, iface string, carbon carbonSink, interval time.Duration, logger zerolog.Logger) *Telemetry {
	return &Telemetry{
		env:      env,
		hostname: hostname,
		nodeID:   nodeID,
		iface:    iface,
		carbon:   carbon,
		interval: interval,
		logger:   logger.With().Str("component", "telemetry").Logger(),
		now:      time.Now,
		procRoot: "/proc",
		sysRoot:  "/sys",
	}
}

func (t *Telemetry) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Collect()
		}
	}
}

// Collect takes one sample. Rate metrics need two samples; the first tick
// only primes the deltas.
func (t *Telemetry) Collect() {
	now := t.now()
	prefix := fmt.Sprintf("%s.%s", t.env, t.hostname)

	records := []tsdb.Record{
		// The health sweep keys off this path.
		{Path: fmt.Sprintf("%s.%s.heartbeat", prefix, t.nodeID), Value: 1, TS: now},
	}

	if b, err := os.ReadFile(t.procRoot + "/loadavg"); err == nil {
		if l1, l5, l15, err := parseLoadavg(b); err == nil {
			records = append(records,
				tsdb.Record{Path: prefix + ".loadavg.1m", Value: l1, TS: now},
				tsdb.Record{Path: prefix + ".loadavg.5m", Value: l5, TS: now},
				tsdb.Record{Path: prefix + ".loadavg.15m", Value: l15, TS: now},
			)
		}
	}

	if b, err := os.ReadFile(t.procRoot + "/meminfo"); err == nil {
		if mem, err := parseMeminfo(b); err == nil {
			records = append(records,
				tsdb.Record{Path: prefix + ".mem.total", Value: float64(mem.total), TS: now},
				tsdb.Record{Path: prefix + ".mem.free", Value: float64(mem.free), TS: now},
				tsdb.Record{Path: prefix + ".mem.used", Value: float64(mem.used()), TS: now},
				tsdb.Record{Path: prefix + ".mem.available", Value: float64(mem.available), TS: now},
			)
		}
	}

	if b, err := os.ReadFile(t.procRoot + "/stat"); err == nil {
		cur := parseCPUStat(b)
		for cpu, sample := range cur {
			prev, ok := t.prevCPU[cpu]
			if !ok {
				continue
			}
			records = append(records, tsdb.Record{
				Path:  fmt.Sprintf("%s.cpu_usage.%s.percentage", prefix, cpu),
				Value: cpuPercent(prev, sample),
				TS:    now,
			})
		}
		t.prevCPU = cur
	}

	tx, rx, err := t.netCounters()
	if err == nil {
		if !t.prevAt.IsZero() {
			elapsed := now.Sub(t.prevAt).Seconds()
			if elapsed > 0 && tx >= t.prevTx && rx >= t.prevRx {
				records = append(records,
					tsdb.Record{Path: fmt.Sprintf("%s.network.%s.tx_bps", prefix, t.iface), Value: float64(tx-t.prevTx) * 8 / elapsed, TS: now},
					tsdb.Record{Path: fmt.Sprintf("%s.network.%s.rx_bps", prefix, t.iface), Value: float64(rx-t.prevRx) * 8 / elapsed, TS: now},
				)
			}
		}
		t.prevTx, t.prevRx = tx, rx
	}
	t.prevAt = now

	if err := t.carbon.Send(records); err != nil {
		t.logger.Warn().Err(err).Msg("carbon send failed")
	}
}

func (t *Telemetry) netCounters() (tx, rx uint64, err error) {
	base := fmt.Sprintf("%s/class/net/%s/statistics/", t.sysRoot, t.iface)
	tx, err = readUintFile(base + "tx_bytes")
	if err != nil {
		return 0, 0, err
	}
	rx, err = readUintFile(base + "rx_bytes")
	if err != nil {
		return 0, 0, err
	}
	return tx, rx, nil
}

func readUintFile(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
}

func parseLoadavg(b []byte) (l1, l5, l15 float64, err error) {
	fields := strings.Fields(string(b))
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("malformed loadavg %q", string(b))
	}
	if l1, err = strconv.ParseFloat(fields[0], 64); err != nil {
		return 0, 0, 0, err
	}
	if l5, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return 0, 0, 0, err
	}
	if l15, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return 0, 0, 0, err
	}
	return l1, l5, l15, nil
}

type memSample struct {
	total     uint64
	free      uint64
	available uint64
}

// used is total minus MemAvailable, the kernel's own estimate of
// reclaimable memory.
func (m memSample) used() uint64 {
	return m.total - m.available
}

func parseMeminfo(b []byte) (memSample, error) {
	var m memSample
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			m.total = kb * 1024
		case "MemFree:":
			m.free = kb * 1024
		case "MemAvailable:":
			m.available = kb * 1024
		}
	}
	if m.total == 0 {
		return memSample{}, fmt.Errorf("meminfo missing MemTotal")
	}
	return m, nil
}

type cpuSample struct {
	idle  uint64
	total uint64
}

func parseCPUStat(b []byte) map[string]cpuSample {
	out := make(map[string]cpuSample)
	for _, line := range strings.Split(string(b), "\n") {
		if !strings.HasPrefix(line, "cpu") || strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		var s cpuSample
		for i, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				break
			}
			s.total += v
			if i == 3 { // idle column
				s.idle = v
			}
		}
		out[fields[0]] = s
	}
	return out
}

func cpuPercent(prev, cur cpuSample) float64 {
	dTotal := cur.total - prev.total
	if cur.total <= prev.total {
		return 0
	}
	dIdle := cur.idle - prev.idle
	return 100 * float64(dTotal-dIdle) / float64(dTotal)
}

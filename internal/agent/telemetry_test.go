package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLoadavg(t *testing.T) {
	l1, l5, l15, err := parseLoadavg([]byte("0.52 0.41 0.30 1/234 5678\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.52, l1)
	assert.Equal(t, 0.41, l5)
	assert.Equal(t, 0.30, l15)

	_, _, _, err = parseLoadavg([]byte("garbage"))
	assert.Error(t, err)
}

func TestParseMeminfo(t *testing.T) {
	raw := []byte("MemTotal:       16315980 kB\nMemFree:         1024000 kB\nMemAvailable:    8157990 kB\nBuffers:          512000 kB\n")
	mem, err := parseMeminfo(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(16315980)*1024, mem.total)
	assert.Equal(t, uint64(1024000)*1024, mem.free)
	assert.Equal(t, uint64(8157990)*1024, mem.available)
	assert.Equal(t, uint64(16315980-8157990)*1024, mem.used())

	_, err = parseMeminfo([]byte("MemFree: 1 kB\n"))
	assert.Error(t, err, "MemTotal is required")
}

func TestCPUPercent(t *testing.T) {
	prev := parseCPUStat([]byte("cpu  900 0 0 100 0 0 0 0\ncpu0 800 0 100 100 0 0 0 0\n"))
	require.Contains(t, prev, "cpu0")
	require.NotContains(t, prev, "cpu", "the aggregate line is skipped")

	cur := parseCPUStat([]byte("cpu0 850 0 150 200 0 0 0 0\n"))
	// 200 total delta, 100 idle delta -> 50% busy.
	assert.InDelta(t, 50.0, cpuPercent(prev["cpu0"], cur["cpu0"]), 0.001)

	assert.Zero(t, cpuPercent(cur["cpu0"], prev["cpu0"]), "counter reset reads as zero")
}

func writeTelemetryFixtures(t *testing.T, proc, sys string, txBytes, rxBytes string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(proc, "loadavg"), []byte("0.50 0.40 0.30 1/100 200\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(proc, "meminfo"), []byte("MemTotal: 1000 kB\nMemAvailable: 400 kB\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(proc, "stat"), []byte("cpu  0 0 0 0 0 0 0 0\ncpu0 800 0 100 100 0 0 0 0\n"), 0o644))
	statDir := filepath.Join(sys, "class", "net", "eth0", "statistics")
	require.NoError(t, os.MkdirAll(statDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(statDir, "tx_bytes"), []byte(txBytes+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(statDir, "rx_bytes"), []byte(rxBytes+"\n"), 0o644))
}

func TestTelemetryCollect(t *testing.T) {
	proc := t.TempDir()
	sys := t.TempDir()
	writeTelemetryFixtures(t, proc, sys, "1000", "2000")

	sink := &captureSink{}
	nodeID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	tel := NewTelemetry("prod", "edge-1", nodeID, "eth0", sink, time.Minute, zerolog.Nop())
	tel.procRoot = proc
	tel.sysRoot = sys

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tel.now = func() time.Time { return now }

	tel.Collect()

	v, ok := sink.value("prod.edge-1." + nodeID.String() + ".heartbeat")
	require.True(t, ok)
	assert.Equal(t, float64(1), v)

	v, ok = sink.value("prod.edge-1.loadavg.1m")
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	v, ok = sink.value("prod.edge-1.mem.used")
	require.True(t, ok)
	assert.Equal(t, float64(600*1024), v)

	_, ok = sink.value("prod.edge-1.cpu_usage.cpu0.percentage")
	assert.False(t, ok, "first sample only primes the cpu deltas")
	_, ok = sink.value("prod.edge-1.network.eth0.tx_bps")
	assert.False(t, ok, "first sample only primes the nic deltas")

	// Second tick: cpu went 50% busy, nic moved 1000/500 bytes in 10s.
	require.NoError(t, os.WriteFile(filepath.Join(proc, "stat"), []byte("cpu0 850 0 150 200 0 0 0 0\n"), 0o644))
	statDir := filepath.Join(sys, "class", "net", "eth0", "statistics")
	require.NoError(t, os.WriteFile(filepath.Join(statDir, "tx_bytes"), []byte("2000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(statDir, "rx_bytes"), []byte("2500\n"), 0o644))
	sink.records = nil
	now = now.Add(10 * time.Second)

	tel.Collect()

	v, ok = sink.value("prod.edge-1.cpu_usage.cpu0.percentage")
	require.True(t, ok)
	assert.InDelta(t, 50.0, v, 0.001)

	v, ok = sink.value("prod.edge-1.network.eth0.tx_bps")
	require.True(t, ok)
	assert.InDelta(t, 1000*8.0/10, v, 0.001)
	v, ok = sink.value("prod.edge-1.network.eth0.rx_bps")
	require.True(t, ok)
	assert.InDelta(t, 500*8.0/10, v, 0.001)
}

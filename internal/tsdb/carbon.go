// Package tsdb talks to the metric store: plaintext carbon records out,
// render-API queries back in.
package tsdb

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Record is one Graphite-style datapoint: "<path> <value> <unix_ts>\n".
type Record struct {
	Path  string
	Value float64
	TS    time.Time
}

func (r Record) String() string {
	return fmt.Sprintf("%s %v %d\n", r.Path, r.Value, r.TS.Unix())
}

// CarbonWriter ships records to a carbon line receiver over TCP. The
// connection is dialed lazily and dropped on any write error; the next
// flush redials. Writes are best-effort, telemetry tolerates gaps.
type CarbonWriter struct {
	mu     sync.Mutex
	addr   string
	conn   net.Conn
	logger zerolog.Logger
}

func NewCarbonWriter(addr string, logger zerolog.Logger) *CarbonWriter {
	return &CarbonWriter{
		addr:   addr,
		logger: logger.With().Str("component", "carbon").Logger(),
	}
}

// Send writes all records on one connection. On error the connection is
// discarded and the error returned; callers log and retry next tick.
func (w *CarbonWriter) Send(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(r.String())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		conn, err := net.DialTimeout("tcp", w.addr, 5*time.Second)
		if err != nil {
			return fmt.Errorf("dial carbon %s: %w", w.addr, err)
		}
		w.conn = conn
		w.logger.Debug().Str("addr", w.addr).Msg("carbon connected")
	}

	if err := w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		w.dropLocked()
		return fmt.Errorf("set carbon deadline: %w", err)
	}
	if _, err := w.conn.Write([]byte(sb.String())); err != nil {
		w.dropLocked()
		return fmt.Errorf("write carbon records: %w", err)
	}
	return nil
}

func (w *CarbonWriter) dropLocked() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

func (w *CarbonWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropLocked()
}

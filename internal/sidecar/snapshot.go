// Package sidecar is the Hysteria2 auth sidecar: an in-memory replica of the
// Hysteria2 connection set, rebuilt from a disk snapshot plus the event tail,
// answering per-packet token lookups for the local proxy.
package sidecar

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ponyhq/pony/internal/model"
)

// snapshotVersion prefixes every snapshot file. Readers reject files with a
// version they do not understand and fall back to a full re-fetch.
const snapshotVersion uint32 = 1

// Header: 4-byte LE version, 8-byte LE unix timestamp of the write.
const snapshotHeaderLen = 12

var (
	snapEnc cbor.EncMode
	snapDec cbor.DecMode
)

func init() {
	var err error
	snapEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	snapDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// WriteSnapshot serializes conns and atomically replaces the file at path.
// The live file is never truncated: the payload goes to <path>.tmp first and
// is renamed over it.
func WriteSnapshot(path string, conns []*model.Connection, ts time.Time) error {
	body, err := snapEnc.Marshal(conns)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	buf := make([]byte, snapshotHeaderLen, snapshotHeaderLen+len(body))
	binary.LittleEndian.PutUint32(buf, snapshotVersion)
	binary.LittleEndian.PutUint64(buf[4:], uint64(ts.Unix()))
	buf = append(buf, body...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the snapshot at path. A missing file is not an error:
// it returns no connections and a zero timestamp, signalling a full fetch.
func LoadSnapshot(path string) ([]*model.Connection, time.Time, error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if len(buf) < snapshotHeaderLen {
		return nil, time.Time{}, fmt.Errorf("snapshot %s truncated: %d bytes", path, len(buf))
	}
	if v := binary.LittleEndian.Uint32(buf); v != snapshotVersion {
		return nil, time.Time{}, fmt.Errorf("snapshot %s has unsupported version %d", path, v)
	}
	ts := time.Unix(int64(binary.LittleEndian.Uint64(buf[4:])), 0)

	var conns []*model.Connection
	if err := snapDec.Unmarshal(buf[snapshotHeaderLen:], &conns); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return conns, ts, nil
}

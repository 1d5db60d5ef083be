package bus

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FrameVersion prefixes every payload frame. Agents and sidecars drop
// frames they cannot parse, so the version must change whenever the
// archived layout does.
const FrameVersion uint32 = 1

const headerLen = 4

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode archives a batch into a payload frame: a 4-byte little-endian
// version prefix followed by the CBOR-encoded message vector.
func Encode(msgs []Message) ([]byte, error) {
	body, err := encMode.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode message batch: %w", err)
	}
	frame := make([]byte, headerLen, headerLen+len(body))
	binary.LittleEndian.PutUint32(frame, FrameVersion)
	return append(frame, body...), nil
}

// Decode parses a payload frame produced by Encode. Frames with an unknown
// version or a malformed body are a parse error; callers log and drop them.
func Decode(frame []byte) ([]Message, error) {
	if len(frame) < headerLen {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	if v := binary.LittleEndian.Uint32(frame); v != FrameVersion {
		return nil, fmt.Errorf("unsupported frame version %d", v)
	}
	var msgs []Message
	if err := decMode.Unmarshal(frame[headerLen:], &msgs); err != nil {
		return nil, fmt.Errorf("decode message batch: %w", err)
	}
	return msgs, nil
}

package tcpsst

import (
	"fmt"

	"github.com/tcpsst/tcpsst/pkg/wire"
)

// Control-frame opcodes carried on wire.ControlStreamID, per spec.md §6.
const (
	opcodeNewStream   byte = 1
	opcodeCloseStream byte = 2
	opcodeAckClose    byte = 3
)

// encodeControlFrame builds a control-frame body: opcode followed by a
// single streamid_varint argument, for all three opcodes spec.md §4.3
// defines.
func encodeControlFrame(opcode byte, sid wire.StreamID) []byte {
	sidBytes := sid.Serialize()
	body := make([]byte, 1+len(sidBytes))
	body[0] = opcode
	copy(body[1:], sidBytes)
	return body
}

func decodeControlFrame(body []byte) (opcode byte, sid wire.StreamID, err error) {
	if len(body) < 1 {
		return 0, 0, fmt.Errorf("%w: empty control frame", ErrProtocolViolation)
	}
	opcode = body[0]
	switch opcode {
	case opcodeNewStream, opcodeCloseStream, opcodeAckClose:
	default:
		return 0, 0, fmt.Errorf("%w: unknown opcode %d", ErrProtocolViolation, opcode)
	}
	sid, n, err := wire.DecodeStreamID(body[1:])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad control frame sid: %v", ErrProtocolViolation, err)
	}
	if n != len(body)-1 {
		return 0, 0, fmt.Errorf("%w: trailing bytes in control frame", ErrProtocolViolation)
	}
	return opcode, sid, nil
}

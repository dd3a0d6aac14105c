package tcpsst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcpsst/tcpsst/pkg/wire"
)

func TestControlFrameRoundTrip(t *testing.T) {
	for _, op := range []byte{opcodeNewStream, opcodeCloseStream, opcodeAckClose} {
		body := encodeControlFrame(op, wire.StreamID(41))
		gotOp, gotSid, err := decodeControlFrame(body)
		require.NoError(t, err)
		assert.Equal(t, op, gotOp)
		assert.Equal(t, wire.StreamID(41), gotSid)
	}
}

func TestControlFrameUnknownOpcode(t *testing.T) {
	body := encodeControlFrame(opcodeNewStream, 1)
	body[0] = 0xFF
	_, _, err := decodeControlFrame(body)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestControlFrameEmpty(t *testing.T) {
	_, _, err := decodeControlFrame(nil)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

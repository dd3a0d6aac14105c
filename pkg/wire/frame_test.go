package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		sid     StreamID
		payload []byte
	}{
		{0, nil},
		{1, []byte("hello")},
		{2, bytes.Repeat([]byte{0xAB}, 4096)},
		{1 << 30, []byte{1, 2, 3}},
	}
	for _, c := range cases {
		buf, err := Encode(c.sid, c.payload)
		require.NoError(t, err)

		r := NewReassembler()
		frames, err := r.Feed(buf)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Equal(t, c.sid, frames[0].StreamID)
		assert.Equal(t, c.payload, frames[0].Payload)
	}
}

// TestEncodePayloadTooLarge checks the PayloadTooLarge boundary spec.md
// §4.1/§7 requires.
func TestEncodePayloadTooLarge(t *testing.T) {
	huge := make([]byte, MaxPayloadTotal)
	_, err := Encode(1, huge)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

// TestReassemblerSplitAcrossFeeds exercises the case a raw TCP read can
// always produce: a frame boundary landing mid-header or mid-payload.
func TestReassemblerSplitAcrossFeeds(t *testing.T) {
	buf, err := Encode(5, []byte("split across reads"))
	require.NoError(t, err)

	r := NewReassembler()
	var got []Frame
	for _, b := range buf {
		frames, err := r.Feed([]byte{b})
		require.NoError(t, err)
		got = append(got, frames...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, StreamID(5), got[0].StreamID)
	assert.Equal(t, []byte("split across reads"), got[0].Payload)
}

// TestReassemblerMultipleFramesOneFeed covers coalescing: several
// frames arriving in a single Read.
func TestReassemblerMultipleFramesOneFeed(t *testing.T) {
	a, err := Encode(1, []byte("a"))
	require.NoError(t, err)
	b, err := Encode(3, []byte("bb"))
	require.NoError(t, err)

	r := NewReassembler()
	frames, err := r.Feed(append(a, b...))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, StreamID(1), frames[0].StreamID)
	assert.Equal(t, StreamID(3), frames[1].StreamID)
}

func TestReassemblerProtocolViolation(t *testing.T) {
	bad := make([]byte, MaxPacketLengthBytes+1)
	for i := range bad {
		bad[i] = 0x03
	}
	r := NewReassembler()
	_, err := r.Feed(bad)
	assert.ErrorIs(t, err, ErrBadLength)
}

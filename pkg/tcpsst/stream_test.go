package tcpsst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcpsst/tcpsst/pkg/clock"
	"github.com/tcpsst/tcpsst/pkg/wire"
)

// foreignStream is not a *LogicalStream, exercising CloneFrom's
// ErrForeignTransport path (SPEC_FULL.md §10's sealed Stream variant).
type foreignStream struct{}

func (foreignStream) ID() wire.StreamID { return 1 }
func (foreignStream) Close() error      { return nil }

func TestCloneFromSucceedsFromLogicalStream(t *testing.T) {
	r := runReactor(t)
	clk := clock.New()

	ln, err := Listen("127.0.0.1:0", DefaultConfig().SetWidth(1), r, clk, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	client, err := Connect(ln.Addr().String(), DefaultConfig().SetWidth(1), r, clk, nil)
	require.NoError(t, err)

	original, err := client.OpenStream(CallbackSet{})
	require.NoError(t, err)

	clone := &LogicalStream{}
	require.NoError(t, clone.CloneFrom(original, CallbackSet{}))
	assert.NotEqual(t, original.ID(), clone.ID())
}

func TestCloneFromRejectsForeignTransport(t *testing.T) {
	clone := &LogicalStream{}
	assert.ErrorIs(t, clone.CloneFrom(foreignStream{}, CallbackSet{}), ErrForeignTransport)
	assert.ErrorIs(t, clone.CloneFrom(nil, CallbackSet{}), ErrNoSocket)
}

func TestSendPayloadTooLargeFailsLoudly(t *testing.T) {
	r := runReactor(t)
	clk := clock.New()

	ln, err := Listen("127.0.0.1:0", DefaultConfig().SetWidth(1), r, clk, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	client, err := Connect(ln.Addr().String(), DefaultConfig().SetWidth(1), r, clk, nil)
	require.NoError(t, err)

	stream, err := client.OpenStream(CallbackSet{})
	require.NoError(t, err)

	huge := make([]byte, wire.MaxPayloadTotal)
	err = stream.Send(huge, ReliableOrdered)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

package tcpsst

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcpsst/tcpsst/pkg/clock"
	"github.com/tcpsst/tcpsst/pkg/wire"
)

// TestCloseMarksClosingLocalBeforeClearingCallbacks covers spec.md
// §4.3's local-close state machine: Close must call closeStream (which
// marks the table entry ClosingLocal and stashes its ack-wait channel)
// before clearing the entry's callback set, not after — clearing
// callbacks first used to delete the entry out from under closeStream,
// so it could never find it and the ack-wait goroutine never spawned.
func TestCloseMarksClosingLocalBeforeClearingCallbacks(t *testing.T) {
	r := runReactor(t)
	clk := clock.New()

	ln, err := Listen("127.0.0.1:0", DefaultConfig().SetWidth(1), r, clk, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	client, err := Connect(ln.Addr().String(), DefaultConfig().SetWidth(1), r, clk, nil)
	require.NoError(t, err)

	stream, err := client.OpenStream(CallbackSet{})
	require.NoError(t, err)

	require.NoError(t, stream.Close())

	client.mu.Lock()
	entry, ok := client.streams[stream.ID()]
	client.mu.Unlock()
	require.True(t, ok, "entry must still be in the table for the ACK_CLOSE wait to find it")
	assert.True(t, entry.closingLocal)
	assert.Nil(t, entry.cbs)
}

// TestCloseStreamRetiresViaAckClose covers the rest of the same
// handshake: the peer that receives CLOSE_STREAM must reply with
// ACK_CLOSE so the closer retires promptly instead of only ever
// falling through to cfg.closeAckTimeout.
func TestCloseStreamRetiresViaAckClose(t *testing.T) {
	r := runReactor(t)
	clk := clock.New()

	newStreamCh := make(chan *LogicalStream, 1)
	ln, err := Listen("127.0.0.1:0", DefaultConfig().SetWidth(1), r, clk,
		func(ls *LogicalStream) { newStreamCh <- ls }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	client, err := Connect(ln.Addr().String(), DefaultConfig().SetWidth(1).SetCloseAckTimeout(5*time.Second), r, clk, nil)
	require.NoError(t, err)

	stream, err := client.OpenStream(CallbackSet{})
	require.NoError(t, err)

	select {
	case <-newStreamCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw NEW_STREAM")
	}

	require.NoError(t, stream.Close())

	require.Eventually(t, func() bool {
		client.mu.Lock()
		_, stillPresent := client.streams[stream.ID()]
		client.mu.Unlock()
		return !stillPresent
	}, time.Second, 10*time.Millisecond, "stream should retire via ACK_CLOSE well before the 5s timeout")
}

// TestSendUnreliableDroppedAtHighWaterMark covers spec.md §8 Scenario
// S5: an unreliable send is silently dropped, not queued, once a
// sub-connection's outbound backlog reaches the configured high-water
// mark.
func TestSendUnreliableDroppedAtHighWaterMark(t *testing.T) {
	r := runReactor(t)
	clk := clock.New()

	cfg := DefaultConfig().SetWidth(1).SetHighWaterMark(1)
	m := newMultiplexedSocket(cfg, r, clk, true, nil)

	sc := &subConn{
		owner:         m,
		queue:         make(chan []byte, 4),
		closing:       make(chan struct{}),
		highWaterMark: cfg.highWaterMark,
	}
	m.subConns = []*subConn{sc}
	m.setLifecycle(stateConnected)

	// Pre-fill the queue to the high-water mark without starting the
	// write pump, so queueDepth() deterministically reports 1 rather
	// than racing a real drain.
	sc.queue <- []byte("already-queued")

	before := testutil.ToFloat64(metricUnreliableDropped)

	req, err := newRawRequest(wire.StreamID(3), Unreliable, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, m.sendBytes(req))

	assert.Equal(t, before+1, testutil.ToFloat64(metricUnreliableDropped))
	assert.Equal(t, 1, sc.queueDepth(), "dropped send must not have been enqueued")
}

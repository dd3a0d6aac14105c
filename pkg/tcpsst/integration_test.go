package tcpsst

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcpsst/tcpsst/pkg/clock"
	"github.com/tcpsst/tcpsst/pkg/reactor"
)

func runReactor(t *testing.T) reactor.Reactor {
	r := reactor.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)
	return r
}

// TestConnectListenHandshake covers spec.md §8 Testable Property 4:
// after handshake both peers agree on the multiplex width, the server
// hands out the accepted session, and the client is Connected.
func TestConnectListenHandshake(t *testing.T) {
	r := runReactor(t)
	clk := clock.New()

	acceptedCh := make(chan *MultiplexedSocket, 1)
	ln, err := Listen("127.0.0.1:0", DefaultConfig().SetWidth(3), r, clk, nil, func(ms *MultiplexedSocket) {
		acceptedCh <- ms
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	client, err := Connect(ln.Addr().String(), DefaultConfig().SetWidth(3), r, clk, nil)
	require.NoError(t, err)

	select {
	case server := <-acceptedCh:
		assert.Len(t, server.subConns, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted session")
	}
	assert.Len(t, client.subConns, 3)
	assert.Equal(t, stateConnected, client.lifecycle())
}

// TestOpenStreamAndSend covers scenario S1: a stream open followed by a
// reliable-ordered send arrives at the peer's substream and
// bytes-received callbacks.
func TestOpenStreamAndSend(t *testing.T) {
	r := runReactor(t)
	clk := clock.New()

	newStreamCh := make(chan *LogicalStream, 1)
	bytesCh := make(chan []byte, 1)

	ln, err := Listen("127.0.0.1:0", DefaultConfig().SetWidth(1), r, clk,
		func(ls *LogicalStream) {
			_ = ls.socket.addCallbacks(ls.id, &CallbackSet{
				OnBytesReceived: func(p []byte) { bytesCh <- p },
			})
			newStreamCh <- ls
		}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	client, err := Connect(ln.Addr().String(), DefaultConfig().SetWidth(1), r, clk, nil)
	require.NoError(t, err)

	stream, err := client.OpenStream(CallbackSet{})
	require.NoError(t, err)

	require.NoError(t, stream.Send([]byte("hello"), ReliableOrdered))

	select {
	case ls := <-newStreamCh:
		assert.Equal(t, stream.ID(), ls.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw NEW_STREAM")
	}

	select {
	case p := <-bytesCh:
		assert.Equal(t, []byte("hello"), p)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received bytes")
	}
}

// TestIllegalReliabilityRejected checks that a Reliability value
// outside the three legal modes (there is no constant for the
// ordered+unreliable combination spec.md §3/§4.4 forbids) is rejected
// with ErrIllegalReliability.
func TestIllegalReliabilityRejected(t *testing.T) {
	r := runReactor(t)
	clk := clock.New()
	ln, err := Listen("127.0.0.1:0", DefaultConfig().SetWidth(1), r, clk, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	client, err := Connect(ln.Addr().String(), DefaultConfig().SetWidth(1), r, clk, nil)
	require.NoError(t, err)

	stream, err := client.OpenStream(CallbackSet{})
	require.NoError(t, err)

	err = stream.Send([]byte("x"), Reliability(99))
	assert.ErrorIs(t, err, ErrIllegalReliability)
}

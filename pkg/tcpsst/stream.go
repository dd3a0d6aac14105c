package tcpsst

import (
	"sync/atomic"

	"github.com/tcpsst/tcpsst/pkg/logger"
	"github.com/tcpsst/tcpsst/pkg/wire"
)

// ConnectedCallback fires once per LogicalStream's lifetime, exactly
// when the owning MultiplexedSocket session is known connected
// (success) or known failed (false), per spec.md §4.3.
type ConnectedCallback func(success bool)

// BytesReceivedCallback delivers one inbound payload for this stream.
type BytesReceivedCallback func(payload []byte)

// DisconnectedCallback fires at most once over the stream's lifetime,
// when the peer closes the stream or the socket tears down while the
// stream's callbacks are still installed. Closing the stream locally
// with Close clears its callbacks and does not deliver it.
type DisconnectedCallback func(reason error)

// SubstreamCallback is handed a freshly accepted LogicalStream when the
// peer opens a new one (spec.md §4.3 NEW_STREAM, §4.5).
type SubstreamCallback func(*LogicalStream)

// CallbackSet is the per-StreamID registration spec.md §3 describes. A
// nil CallbackSet installed via addCallbacks means "refuse further
// delivery"; the stream-table entry itself stays until the stream is
// retired.
type CallbackSet struct {
	OnConnected     ConnectedCallback
	OnBytesReceived BytesReceivedCallback
	OnDisconnected  DisconnectedCallback
}

// LogicalStream is the user-facing handle spec.md §3/§4.4 describes: a
// shared reference to its MultiplexedSocket, its StreamID, and the
// send-status coordination word.
type LogicalStream struct {
	socket *multiplexedSocket
	id     wire.StreamID
	status sendStatus
	log    *logger.Logger
}

func newLogicalStream(socket *multiplexedSocket, id wire.StreamID) *LogicalStream {
	return &LogicalStream{
		socket: socket,
		id:     id,
		log:    logger.Tagged("stream"),
	}
}

// ID returns this stream's StreamID.
func (ls *LogicalStream) ID() wire.StreamID { return ls.id }

// Send implements spec.md §4.4's send(data, reliability): builds a
// RawRequest and coordinates with a concurrent close via the send-
// status word. A send to a closing/closed stream is silently dropped
// with a debug log, matching the "fire and forget" semantics spec.md
// §4.4/§7 document for transport-level failures — but per §7, a frame
// encode failure (PayloadTooLarge) or an illegal reliability request
// is a programmer error and is returned to the caller rather than
// swallowed (Scenario S6).
func (ls *LogicalStream) Send(data []byte, reliability Reliability) error {
	req, err := newRawRequest(ls.id, reliability, data)
	if err != nil {
		return err
	}
	if !ls.status.enter() {
		ls.status.leave()
		ls.log.Debugf(logger.Debug, "send to closed stream id %d", ls.id)
		return nil
	}
	defer ls.status.leave()
	return ls.socket.sendBytes(req)
}

// Close implements spec.md §4.4's close(): claims the closing slot,
// waits for in-flight senders to drain, asks the socket to emit
// CLOSE_STREAM and move the stream to ClosingLocal, then clears the
// callback set so inbound delivery stops immediately. closeStream must
// run first: it stashes the ack-wait channel on this stream's table
// entry, and that entry has to still be there to find it — clearing
// callbacks first used to delete the entry out from under it, so the
// ACK_CLOSE-or-timeout retire path never actually ran.
func (ls *LogicalStream) Close() error {
	if !ls.status.beginClose() {
		// A later closer; the first closer already drives teardown.
		return nil
	}
	ls.socket.closeStream(ls.id)
	ls.socket.addCallbacks(ls.id, nil)
	return nil
}

// Stream is the small interface LogicalStream.CloneFrom accepts in
// place of a concrete *LogicalStream. DESIGN NOTES §9 flags the
// original's `cloneFrom` as a dynamic cast across a polymorphic stream
// interface; the rewrite it calls for is a sealed-variant match
// instead. *LogicalStream is the only implementation this module
// provides. CloneFrom still type-switches on the concrete value rather
// than trusting the interface, so a Stream handed in from some other
// transport family fails cleanly with ErrForeignTransport instead of
// panicking or silently cloning into the wrong socket.
type Stream interface {
	ID() wire.StreamID
	Close() error
}

// CloneFrom implements spec.md §4.4's clone_from: pulls the
// MultiplexedSocket out of an existing open stream, allocates a fresh
// StreamID, and installs cbs on it. Fails with ErrForeignTransport if
// other is not a *LogicalStream, ErrNoSocket if it has no live socket,
// or ErrNotConnected if the socket isn't Connected.
func (ls *LogicalStream) CloneFrom(other Stream, cbs CallbackSet) error {
	if other == nil {
		return ErrNoSocket
	}
	src, ok := other.(*LogicalStream)
	if !ok {
		return ErrForeignTransport
	}
	if src.socket == nil {
		return ErrNoSocket
	}
	id, err := src.socket.newID()
	if err != nil {
		return err
	}
	ls.socket = src.socket
	ls.id = id
	ls.log = logger.Tagged("stream")
	return src.socket.addCallbacks(id, &cbs)
}

// onceFlag is a tiny CAS-guarded latch, used anywhere spec.md requires
// "exactly once" behavior (disconnected notifications, socket
// teardown).
type onceFlag struct {
	done atomic.Bool
}

func (f *onceFlag) trigger() bool {
	return f.done.CompareAndSwap(false, true)
}

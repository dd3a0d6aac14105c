package tcpsst

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"

	"github.com/tcpsst/tcpsst/pkg/clock"
	"github.com/tcpsst/tcpsst/pkg/logger"
	"github.com/tcpsst/tcpsst/pkg/reactor"
	"github.com/tcpsst/tcpsst/pkg/wire"
)

// sessionNonce generates the random session nonce spec.md §6's
// handshake carries, taking the low 8 bytes of a fresh UUID rather
// than math/rand, following dep2p-go-dep2p's use of google/uuid for
// session/peer identifiers.
func sessionNonce() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[8:16])
}

// lifecycleState is the MultiplexedSocket state machine spec.md §4.3
// defines: Unconnected -> Connecting -> Connected -> Draining ->
// Disconnected.
type lifecycleState int32

const (
	stateUnconnected lifecycleState = iota
	stateConnecting
	stateConnected
	stateDraining
	stateDisconnected
)

const retiredCacheSize = 4096

// streamEntry is one row of the stream table: the installed callback
// set, local close bookkeeping, and the once-latch guarding this
// stream's single on_disconnected delivery (spec.md §8's "exactly
// once" property, §5's "every live stream receives on_disconnected
// exactly once"). The entry, not the LogicalStream handle, is the
// latch's home: a locally-opened stream's entry is created by
// addCallbacks with no LogicalStream reference at hand, so the latch
// has to live wherever both close paths (peer CLOSE_STREAM, socket
// teardown) can reach it without one.
type streamEntry struct {
	cbs              *CallbackSet
	closingLocal     bool
	ackCh            chan struct{}
	disconnectedOnce onceFlag
}

// MultiplexedSocket aggregates a fixed-size pool of TCP sub-
// connections to one peer (spec.md §3/§4.3). Grounded on
// solomonwzs-muxstream/session.go's Session (its streamManager ≈ our
// stream table, processFrame's opcode switch ≈ our control-frame
// dispatch, getNextStreamID ≈ our newID), adapted from muxstream's
// single sub-connection to a fixed pool of N; the handshake is
// grounded on spec.md §6 directly.
type MultiplexedSocket struct {
	*multiplexedSocket
}

type multiplexedSocket struct {
	cfg      *Config
	reactor  reactor.Reactor
	clk      clock.Clock
	log      *logger.Logger
	dispatch *callbackDispatcher
	metrics  *metricsSet

	initiator   bool
	substreamCb SubstreamCallback

	subConns []*subConn
	rrCursor atomic.Uint64

	mu          sync.Mutex
	streams     map[wire.StreamID]*streamEntry
	nextID      wire.StreamID
	state       atomic.Int32
	retiredLRU  *lru.Cache[wire.StreamID, struct{}]
	preConnReg  []wire.StreamID
	failedOnce  onceFlag
}

func newMultiplexedSocket(cfg *Config, r reactor.Reactor, clk clock.Clock, initiator bool, substreamCb SubstreamCallback) *multiplexedSocket {
	retired, _ := lru.New[wire.StreamID, struct{}](retiredCacheSize)
	m := &multiplexedSocket{
		cfg:         cfg,
		reactor:     r,
		clk:         clk,
		log:         logger.Tagged("multiplex"),
		dispatch:    newCallbackDispatcher(r, cfg.callbackWeight),
		metrics:     newMetricsSet(),
		initiator:   initiator,
		substreamCb: substreamCb,
		streams:     make(map[wire.StreamID]*streamEntry),
		retiredLRU:  retired,
	}
	if initiator {
		m.nextID = 1
	} else {
		m.nextID = 2
	}
	m.state.Store(int32(stateUnconnected))
	return m
}

func (m *multiplexedSocket) lifecycle() lifecycleState {
	return lifecycleState(m.state.Load())
}

func (m *multiplexedSocket) setLifecycle(s lifecycleState) {
	m.state.Store(int32(s))
}

// newID allocates the next StreamID for this side, keeping parity by
// side (odd for the initiator, even for the acceptor), per spec.md §3
// and §4.3. Wraparound is a fatal protocol error.
func (m *multiplexedSocket) newID() (wire.StreamID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	next := id + 2
	if next < id {
		return 0, ErrStreamIDExhausted
	}
	m.nextID = next
	return id, nil
}

// addStreamLocked inserts entry into the stream table and keeps the
// active-streams gauge in step. Callers must hold m.mu.
func (m *multiplexedSocket) addStreamLocked(sid wire.StreamID, entry *streamEntry) {
	m.streams[sid] = entry
	m.metrics.activeStreams.Inc()
}

// removeStreamLocked deletes sid from the stream table if present and
// keeps the active-streams gauge in step. Callers must hold m.mu.
func (m *multiplexedSocket) removeStreamLocked(sid wire.StreamID) {
	if _, ok := m.streams[sid]; ok {
		delete(m.streams, sid)
		m.metrics.activeStreams.Dec()
	}
}

// notifyDisconnected delivers on_disconnected for entry at most once,
// routed through the callback dispatcher like every other callback
// type (spec.md §4.6's reactor-thread/re-entrancy-bound requirement),
// rather than calling the user's callback directly on whatever
// goroutine detected the disconnect.
func (m *multiplexedSocket) notifyDisconnected(entry *streamEntry, reason error) {
	if entry == nil || entry.cbs == nil || !entry.disconnectedOnce.trigger() {
		return
	}
	m.dispatch.dispatchDisconnected(entry.cbs.OnDisconnected, reason)
}

// Connect opens cfg's width TCP connections to address sequentially,
// running the handshake spec.md §4.3 describes, and returns a
// MultiplexedSocket in Connected state (or an error if any
// sub-connection or the handshake fails).
func Connect(address string, cfg *Config, r reactor.Reactor, clk clock.Clock, substreamCb SubstreamCallback) (*MultiplexedSocket, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := newMultiplexedSocket(cfg, r, clk, true, substreamCb)
	m.setLifecycle(stateConnecting)

	nonce := sessionNonce()
	conns := make([]net.Conn, 0, cfg.width)
	for i := 0; i < cfg.width; i++ {
		conn, err := net.Dial("tcp", address)
		if err != nil {
			closeAll(conns)
			m.setLifecycle(stateDisconnected)
			m.fireSessionConnected(false)
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		if i == 0 {
			if err := writeInitialHandshake(conn, uint8(cfg.width), nonce); err != nil {
				closeAll(append(conns, conn))
				m.setLifecycle(stateDisconnected)
				m.fireSessionConnected(false)
				return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
			}
			if _, _, err := readInitialHandshake(conn); err != nil {
				closeAll(append(conns, conn))
				m.setLifecycle(stateDisconnected)
				m.fireSessionConnected(false)
				return nil, err
			}
		} else {
			if err := writeNonceOnly(conn, nonce); err != nil {
				closeAll(append(conns, conn))
				m.setLifecycle(stateDisconnected)
				m.fireSessionConnected(false)
				return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
			}
		}
		conns = append(conns, conn)
	}

	seeds := make([]subConnSeed, len(conns))
	for i, c := range conns {
		seeds[i] = subConnSeed{conn: c, reader: c}
	}

	ms := &MultiplexedSocket{multiplexedSocket: m}
	ms.bindSubConns(seeds)
	ms.setLifecycle(stateConnected)
	ms.fireSessionConnected(true)
	return ms, nil
}

func closeAll(conns []net.Conn) {
	for _, c := range conns {
		_ = c.Close()
	}
}

// subConnSeed pairs a sub-connection's net.Conn with the io.Reader its
// frame-reassembly read loop must consume from. For the dialing side
// these are always the same value; for the accepting side the reader
// may be a bufio.Reader that peeked ahead to distinguish an initial
// handshake from a nonce-only one (see Listener.handleConn), and any
// bytes it buffered past the handshake must not be dropped on the
// floor by switching back to conn.Read.
type subConnSeed struct {
	conn   net.Conn
	reader io.Reader
}

func (m *multiplexedSocket) bindSubConns(seeds []subConnSeed) {
	m.subConns = make([]*subConn, len(seeds))
	for i, seed := range seeds {
		m.subConns[i] = newSubConn(seed.conn, seed.reader, m, i, m.cfg.subConnQueue, m.cfg.highWaterMark)
	}
}

// fireSessionConnected delivers the session-level on_connected exactly
// once: to every stream whose callbacks were registered before
// Connected was reached (the Open Question decision in DESIGN.md
// resolves spec.md's "first stream registered" wording to "every
// pre-Connected registrant", since TCPSST allows multiple streams to
// be pre-registered concurrently during the handshake window).
//
// In the success=false case m.preConnReg is, in every real caller,
// empty: Connect and Listen's onAccepted both only hand out a
// *MultiplexedSocket/*LogicalStream once the session is already
// Connected, so nothing can have pre-registered against it yet.
// on_connected(false) is consequently only observable today via
// Connect's returned error. See DESIGN.md's multiplex.go entry for why
// this is an accepted gap rather than a bug, and what it would take to
// close it.
func (m *multiplexedSocket) fireSessionConnected(success bool) {
	m.mu.Lock()
	pending := m.preConnReg
	m.preConnReg = nil
	m.mu.Unlock()

	for _, sid := range pending {
		m.mu.Lock()
		entry, ok := m.streams[sid]
		m.mu.Unlock()
		if ok && entry.cbs != nil {
			m.dispatch.dispatchConnected(entry.cbs.OnConnected, success)
		}
	}
}

// addCallbacks installs cbs for sid. A nil cbs clears the callback set,
// refusing further delivery, but deliberately leaves the table entry
// itself in place: closeStream's ACK_CLOSE-or-timeout wait (and
// handleAckClose's lookup of its ackCh) still needs to find this sid
// after Close() has called addCallbacks(sid, nil). retire() is what
// actually removes the entry, once the close handshake finishes.
// Returns ErrNotConnected if the socket has already left the
// Connected/Connecting states by the time of registration on an
// active-side socket (listener-side sockets are already Connected at
// construction).
func (m *multiplexedSocket) addCallbacks(sid wire.StreamID, cbs *CallbackSet) error {
	state := m.lifecycle()
	if state == stateDisconnected || state == stateDraining {
		return ErrNotConnected
	}

	m.mu.Lock()
	if cbs == nil {
		if entry, ok := m.streams[sid]; ok {
			entry.cbs = nil
		}
		m.mu.Unlock()
		return nil
	}
	entry, existed := m.streams[sid]
	if !existed {
		entry = &streamEntry{}
		m.addStreamLocked(sid, entry)
	}
	entry.cbs = cbs
	preConnected := state != stateConnected
	if preConnected {
		m.preConnReg = append(m.preConnReg, sid)
	}
	m.mu.Unlock()

	if !preConnected {
		// Late registrant: synthesize the connected event immediately.
		m.dispatch.dispatchConnected(cbs.OnConnected, true)
	}
	return nil
}

// sendBytes implements spec.md §4.3's routing policy: ordered requests
// hash to a connection by origin stream (so all frames of one ordered
// stream traverse the same sub-connection); unordered requests round-
// robin; unreliable requests are dropped past the per-connection
// high-water mark. Per spec.md §7, a frame-encode failure
// (PayloadTooLarge) is a programmer error and must fail loudly at the
// call site, so it is returned rather than only logged; everything
// else here stays fire-and-forget.
func (m *multiplexedSocket) sendBytes(req rawRequest) error {
	if m.lifecycle() != stateConnected {
		return ErrNotConnected
	}
	var sc *subConn
	if req.unordered {
		sc = m.pickRoundRobin()
	} else {
		sc = m.pickByHash(req.originStream)
	}
	if req.unreliable && sc.queueDepth() >= sc.highWaterMark {
		m.metrics.unreliableDropped.Inc()
		return nil
	}
	frame, err := wire.Encode(req.originStream, req.payload)
	if err != nil {
		m.log.Debugf(logger.Error, "encode failed for stream %d: %v", req.originStream, err)
		return fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
	}
	sc.enqueue(frame)
	m.metrics.framesSent.Inc()
	return nil
}

func (m *multiplexedSocket) pickRoundRobin() *subConn {
	n := uint64(len(m.subConns))
	i := m.rrCursor.Add(1) % n
	return m.subConns[i]
}

func (m *multiplexedSocket) pickByHash(sid wire.StreamID) *subConn {
	h := fnv.New32a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(sid >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return m.subConns[int(h.Sum32())%len(m.subConns)]
}

// dispatchFrame routes one reassembled frame: sid 0 is a control
// frame, anything else is delivered to the registered stream's
// on_bytes_received, or dropped if no callback set is installed. The
// table lookup itself runs as a reactor job, after any substream
// callback already posted for this stream's NEW_STREAM, so callbacks
// installed from that substream callback see the frames that follow.
func (m *multiplexedSocket) dispatchFrame(f wire.Frame) {
	if f.StreamID == wire.ControlStreamID {
		m.handleControlFrame(f.Payload)
		return
	}
	m.dispatch.run(func() {
		m.mu.Lock()
		var cb BytesReceivedCallback
		if entry, ok := m.streams[f.StreamID]; ok && entry.cbs != nil {
			cb = entry.cbs.OnBytesReceived
		}
		m.mu.Unlock()
		if cb == nil {
			return
		}
		m.metrics.framesReceived.Inc()
		cb(f.Payload)
	})
}

func (m *multiplexedSocket) handleControlFrame(body []byte) {
	opcode, sid, err := decodeControlFrame(body)
	if err != nil {
		m.fail(err)
		return
	}
	switch opcode {
	case opcodeNewStream:
		m.handleNewStream(sid)
	case opcodeCloseStream:
		m.handleCloseStream(sid)
	case opcodeAckClose:
		m.handleAckClose(sid)
	}
}

func (m *multiplexedSocket) handleNewStream(sid wire.StreamID) {
	stream := newLogicalStream(m, sid)
	m.mu.Lock()
	m.addStreamLocked(sid, &streamEntry{})
	m.mu.Unlock()
	m.dispatch.dispatchSubstream(m.substreamCb, stream)
}

// handleCloseStream processes a peer-initiated CLOSE_STREAM and acks
// it with ACK_CLOSE regardless of whether sid is still in this side's
// stream table: the closer's wait (closeStream) only cares that an ack
// arrives, and acking unconditionally lets it retire promptly instead
// of always falling through to closeAckTimeout.
func (m *multiplexedSocket) handleCloseStream(sid wire.StreamID) {
	m.ackClose(sid)

	m.mu.Lock()
	entry, ok := m.streams[sid]
	_, recentlyRetired := m.retiredLRU.Peek(sid)
	if ok {
		m.removeStreamLocked(sid)
	}
	m.retiredLRU.Add(sid, struct{}{})
	m.mu.Unlock()

	if !ok {
		// §9 Open Question: silent no-op, tolerating late-arriving
		// frames after local retirement. Log level only reflects
		// whether that's the expected case or a truly unknown sid.
		if recentlyRetired {
			m.log.Debugf(logger.Debug, "CLOSE_STREAM for recently retired sid %d", sid)
		} else {
			m.log.Debugf(logger.Warn, "CLOSE_STREAM for unknown sid %d", sid)
		}
		return
	}
	m.notifyDisconnected(entry, ErrPeerClosed)
}

func (m *multiplexedSocket) handleAckClose(sid wire.StreamID) {
	m.mu.Lock()
	entry, ok := m.streams[sid]
	m.mu.Unlock()
	if ok && entry.ackCh != nil {
		close(entry.ackCh)
	}
	m.retire(sid)
}

func (m *multiplexedSocket) retire(sid wire.StreamID) {
	m.mu.Lock()
	m.removeStreamLocked(sid)
	m.retiredLRU.Add(sid, struct{}{})
	m.mu.Unlock()
}

// ackClose sends the ACK_CLOSE control frame for sid, the receiving
// side's half of spec.md §4.3's close handshake.
func (m *multiplexedSocket) ackClose(sid wire.StreamID) {
	frame, err := wire.Encode(wire.ControlStreamID, encodeControlFrame(opcodeAckClose, sid))
	if err == nil && len(m.subConns) > 0 {
		m.pickByHash(sid).enqueue(frame)
	}
}

// closeStream implements the local-initiated half of spec.md §4.3's
// close handshake: send CLOSE_STREAM, move to ClosingLocal, wait for
// ACK_CLOSE (or cfg.closeAckTimeout) before retiring unconditionally.
func (m *multiplexedSocket) closeStream(sid wire.StreamID) {
	ackCh := make(chan struct{})
	m.mu.Lock()
	entry, ok := m.streams[sid]
	if ok {
		entry.closingLocal = true
		entry.ackCh = ackCh
	}
	m.mu.Unlock()

	frame, err := wire.Encode(wire.ControlStreamID, encodeControlFrame(opcodeCloseStream, sid))
	if err == nil && len(m.subConns) > 0 {
		m.pickByHash(sid).enqueue(frame)
	}

	if !ok {
		return
	}
	go func() {
		select {
		case <-ackCh:
		case <-m.clk.After(clock.Duration(m.cfg.closeAckTimeout.Seconds())):
		}
		m.retire(sid)
	}()
}

// subConnFailed escalates a sub-connection failure to Draining, per
// spec.md §4.2/§4.3: empty the stream table, close every sub-connection
// (each write pump is told to stop and the TCP connection is closed
// right away, so frames still queued are not guaranteed to be written),
// notify every removed stream at most once, then Disconnected.
func (m *multiplexedSocket) subConnFailed(sc *subConn, err error) {
	if !m.failedOnce.trigger() {
		return
	}
	m.setLifecycle(stateDraining)

	m.mu.Lock()
	entries := make([]*streamEntry, 0, len(m.streams))
	for _, e := range m.streams {
		entries = append(entries, e)
	}
	m.streams = make(map[wire.StreamID]*streamEntry)
	m.metrics.activeStreams.Sub(float64(len(entries)))
	m.mu.Unlock()

	var closeErr error
	for _, sub := range m.subConns {
		closeErr = multierr.Append(closeErr, sub.close())
	}
	if closeErr != nil {
		m.log.Debugf(logger.Debug, "sub-connection close errors during teardown: %v", closeErr)
	}

	for _, e := range entries {
		m.notifyDisconnected(e, err)
	}
	m.setLifecycle(stateDisconnected)
}

// Shutdown implements spec.md §5's "application shutdown" path:
// equivalent to a sub-connection failure with ErrNotConnected as the
// reported reason.
func (m *multiplexedSocket) Shutdown() {
	m.subConnFailed(nil, ErrNotConnected)
}

// fail tears the whole socket down for a protocol violation detected
// on receive, per spec.md §7: "protocol violations on receive tear
// down the whole MultiplexedSocket."
func (m *multiplexedSocket) fail(err error) {
	m.subConnFailed(nil, err)
}

// OpenStream allocates a fresh local StreamID, installs cbs, and tells
// the peer via a NEW_STREAM control frame, implementing the half of
// spec.md §4.3's NEW_STREAM exchange the initiating side drives.
func (ms *MultiplexedSocket) OpenStream(cbs CallbackSet) (*LogicalStream, error) {
	id, err := ms.newID()
	if err != nil {
		return nil, err
	}
	ls := newLogicalStream(ms.multiplexedSocket, id)
	if err := ms.addCallbacks(id, &cbs); err != nil {
		return nil, err
	}
	frame, ferr := wire.Encode(wire.ControlStreamID, encodeControlFrame(opcodeNewStream, id))
	if ferr == nil && len(ms.subConns) > 0 {
		ms.pickByHash(id).enqueue(frame)
	}
	return ls, nil
}

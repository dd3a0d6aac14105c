package tcpsst

import (
	"bufio"
	"net"
	"sync"

	"github.com/tcpsst/tcpsst/pkg/clock"
	"github.com/tcpsst/tcpsst/pkg/logger"
	"github.com/tcpsst/tcpsst/pkg/reactor"
)

// AcceptedCallback is handed a freshly handshaked, Connected
// MultiplexedSocket — one per accepted peer session, regardless of how
// many sub-connections make it up.
type AcceptedCallback func(*MultiplexedSocket)

// pendingSession accumulates sub-connections for one in-progress
// accept, keyed by the nonce the initiator sent on its first
// connection, until all cfg.width of them have arrived.
type pendingSession struct {
	socket *multiplexedSocket
	width  int
	conns  []subConnSeed
}

// Listener binds a TCP socket, accepts connections, runs the handshake
// spec.md §4.3 describes, and constructs one MultiplexedSocket per
// peer session. Grounded on the teacher's TCPTransport.acceptLoop/
// handleConn for the accept-loop shape and per-connection goroutine
// dispatch; "bind the first N sub-connections of one peer to one
// socket" is grounded on spec.md §4.3's handshake description
// directly, since the teacher accepts one connection per node and has
// no concept of a connection pool per peer.
type Listener struct {
	ln          net.Listener
	cfg         *Config
	reactor     reactor.Reactor
	clk         clock.Clock
	substreamCb SubstreamCallback
	onAccepted  AcceptedCallback
	log         *logger.Logger

	mu       sync.Mutex
	sessions map[uint64]*pendingSession
}

// Listen binds addr and starts accepting peer sessions in the
// background. onAccepted fires once per peer session, after the
// handshake completes and the MultiplexedSocket reaches Connected;
// substreamCb fires once per NEW_STREAM thereafter.
func Listen(addr string, cfg *Config, r reactor.Reactor, clk clock.Clock, substreamCb SubstreamCallback, onAccepted AcceptedCallback) (*Listener, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		ln:          ln,
		cfg:         cfg,
		reactor:     r,
		clk:         clk,
		substreamCb: substreamCb,
		onAccepted:  onAccepted,
		log:         logger.Tagged("listener"),
		sessions:    make(map[uint64]*pendingSession),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) Close() error { return l.ln.Close() }

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.log.Debugf(logger.Debug, "accept loop exiting: %v", err)
			return
		}
		go l.handleConn(conn)
	}
}

// handleConn discriminates an initial handshake from a nonce-only
// sub-connection by peeking the first len(handshakeMagic) bytes rather
// than guessing from a failed fixed-size read: the nonce-only shape
// (writeNonceOnly, 8 bytes) has no byte count in common with the
// initial shape (13 bytes) that a blocking io.ReadFull could safely
// retry on after a short read, and spec.md's wire format has no spare
// byte to spend on an explicit discriminator. Peek leaves the bytes in
// br unconsumed, so whichever handshake reader runs next still sees
// them, and the bufio.Reader travels onward as this sub-connection's
// frame-reassembly source so nothing peeked-but-unread is lost.
func (l *Listener) handleConn(conn net.Conn) {
	br := bufio.NewReaderSize(conn, 64*1024)
	peek, err := br.Peek(len(handshakeMagic))
	if err != nil {
		l.log.Debugf(logger.Debug, "connection closed before handshake: %v", err)
		_ = conn.Close()
		return
	}
	if string(peek) == handshakeMagic {
		l.handleNewSession(conn, br)
		return
	}
	l.handleSubConn(conn, br)
}

func (l *Listener) handleNewSession(conn net.Conn, br *bufio.Reader) {
	width, nonce, err := readInitialHandshake(br)
	if err != nil {
		l.log.Debugf(logger.Warn, "malformed initial handshake: %v", err)
		_ = conn.Close()
		return
	}
	if err := writeInitialHandshake(conn, width, nonce); err != nil {
		l.log.Debugf(logger.Warn, "handshake ack failed: %v", err)
		_ = conn.Close()
		return
	}

	cfg := *l.cfg
	cfg.width = int(width)
	m := newMultiplexedSocket(&cfg, l.reactor, l.clk, false, l.substreamCb)

	sess := &pendingSession{socket: m, width: int(width), conns: []subConnSeed{{conn: conn, reader: br}}}
	l.mu.Lock()
	l.sessions[nonce] = sess
	l.mu.Unlock()

	l.maybeComplete(nonce, sess)
}

func (l *Listener) handleSubConn(conn net.Conn, br *bufio.Reader) {
	nonce, err := readNonceOnly(br)
	if err != nil {
		l.log.Debugf(logger.Warn, "unrecognized sub-connection: %v", err)
		_ = conn.Close()
		return
	}

	l.mu.Lock()
	sess, ok := l.sessions[nonce]
	if ok {
		sess.conns = append(sess.conns, subConnSeed{conn: conn, reader: br})
	}
	l.mu.Unlock()

	if !ok {
		l.log.Debugf(logger.Warn, "sub-connection for unknown session nonce")
		_ = conn.Close()
		return
	}
	l.maybeComplete(nonce, sess)
}

func (l *Listener) maybeComplete(nonce uint64, sess *pendingSession) {
	l.mu.Lock()
	ready := len(sess.conns) >= sess.width
	if ready {
		delete(l.sessions, nonce)
	}
	l.mu.Unlock()
	if !ready {
		return
	}

	ms := &MultiplexedSocket{multiplexedSocket: sess.socket}
	ms.bindSubConns(sess.conns)
	ms.setLifecycle(stateConnected)
	ms.fireSessionConnected(true)
	if l.onAccepted != nil {
		l.onAccepted(ms)
	}
}

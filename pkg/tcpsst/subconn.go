package tcpsst

import (
	"io"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/tcpsst/tcpsst/pkg/logger"
	"github.com/tcpsst/tcpsst/pkg/wire"
)

// subConn wraps one TCP sub-connection: an outbound FIFO queue drained
// by a single write-pump goroutine (single-writer discipline, spec.md
// §4.2), and a Reassembler for the read side. Grounded on the teacher's
// TCPNode.Send's sync.Mutex-guarded single writer (tcp_transport.go),
// generalized from lock-per-send to queue-plus-pump because unreliable
// sends must be droppable at enqueue time rather than blocking, and on
// solomonwzs-muxstream/session.go's sendQueue chan for the FIFO shape.
//
// reader is read from instead of conn directly: on the accepting side
// it may be a bufio.Reader that already peeked ahead of conn during
// handshake discrimination (see Listener.handleConn), and reading from
// conn directly there would drop whatever bytes it buffered.
type subConn struct {
	conn    net.Conn
	reader  io.Reader
	owner   *multiplexedSocket
	index   int
	log     *logger.Logger
	queue   chan []byte
	closing chan struct{}
	closed  atomic.Bool
	failed  atomic.Bool

	highWaterMark int
}

func newSubConn(conn net.Conn, reader io.Reader, owner *multiplexedSocket, index, queueDepth, highWaterMark int) *subConn {
	sc := &subConn{
		conn:          conn,
		reader:        reader,
		owner:         owner,
		index:         index,
		log:           logger.Tagged("subconn"),
		queue:         make(chan []byte, queueDepth),
		closing:       make(chan struct{}),
		highWaterMark: highWaterMark,
	}
	go sc.writePump()
	go sc.readLoop()
	return sc
}

// queueDepth reports how many chunks are currently buffered, used by
// send routing to apply the unreliable high-water-mark drop (spec.md
// §4.3 send_bytes, §8 S5).
func (sc *subConn) queueDepth() int {
	return len(sc.queue)
}

// enqueue pushes chunk onto the FIFO. The FIFO is a buffered channel
// with the configured sub-connection queue depth as its capacity: when
// it is full, enqueue blocks until the write pump frees a slot, and
// once the sub-connection is closing the chunk may be dropped instead.
// Callers wanting the high-water-mark drop check queueDepth() first.
func (sc *subConn) enqueue(chunk []byte) {
	select {
	case sc.queue <- chunk:
		sc.reportQueueDepth()
	case <-sc.closing:
	}
}

// reportQueueDepth publishes this sub-connection's current queue depth
// to the per-sub-connection gauge SPEC_FULL.md §8 calls for.
func (sc *subConn) reportQueueDepth() {
	sc.owner.metrics.queueDepth.WithLabelValues(strconv.Itoa(sc.index)).Set(float64(len(sc.queue)))
}

// beginClose stops accepting new writes once the queue drains and
// half-closes the write side.
func (sc *subConn) beginClose() {
	if sc.closed.CompareAndSwap(false, true) {
		close(sc.closing)
	}
}

func (sc *subConn) writePump() {
	for {
		select {
		case chunk := <-sc.queue:
			sc.reportQueueDepth()
			if _, err := sc.conn.Write(chunk); err != nil {
				sc.reportFailure(err)
				return
			}
		case <-sc.closing:
			// Drain whatever is already queued before half-closing.
			for {
				select {
				case chunk := <-sc.queue:
					sc.reportQueueDepth()
					if _, err := sc.conn.Write(chunk); err != nil {
						sc.reportFailure(err)
						return
					}
				default:
					if half, ok := sc.conn.(interface{ CloseWrite() error }); ok {
						_ = half.CloseWrite()
					}
					return
				}
			}
		}
	}
}

func (sc *subConn) readLoop() {
	reasm := wire.NewReassembler()
	buf := make([]byte, 64*1024)
	for {
		n, err := sc.reader.Read(buf)
		if n > 0 {
			frames, ferr := reasm.Feed(buf[:n])
			for _, f := range frames {
				sc.owner.dispatchFrame(f)
			}
			if ferr != nil {
				sc.reportProtocolViolation(ferr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				sc.reportFailure(err)
			} else {
				sc.reportFailure(ErrPeerClosed)
			}
			return
		}
	}
}

func (sc *subConn) reportFailure(err error) {
	if sc.failed.CompareAndSwap(false, true) {
		sc.log.Debugf(logger.Debug, "sub-connection failed: %v", err)
		sc.owner.subConnFailed(sc, err)
	}
}

func (sc *subConn) reportProtocolViolation(err error) {
	if sc.failed.CompareAndSwap(false, true) {
		sc.log.Debugf(logger.Warn, "protocol violation: %v", err)
		sc.owner.subConnFailed(sc, ErrProtocolViolation)
	}
}

func (sc *subConn) close() error {
	sc.beginClose()
	return sc.conn.Close()
}

package tcpsst

import (
	"sync/atomic"
)

// sendStatusClosing (K) is the per-closer increment added to a
// LogicalStream's send-status word, per spec.md §5's bit layout: the
// low bits count concurrently executing senders, the field scaled by
// K counts concurrent closers. K must exceed the maximum plausible
// sender count so the two fields never overlap; spec.md caps
// concurrent senders well under 256.
const sendStatusClosing = 256

// maxClosers is the design cap on concurrent closers spec.md §5
// states: exactly the recv thread, a write-completion callback, and a
// user call to close() can race. A fourth is a programming error.
const maxClosers = 3

// sendStatus is the per-LogicalStream atomic coordination word,
// reimplemented with sync/atomic from
// original_source/libcore/src/network/TCPStream.cpp's mSendStatus
// int-packing, following the DESIGN NOTES' recommended documented
// split over the original's open-coded bit arithmetic (same layout,
// clearer constants).
type sendStatus struct {
	word atomic.Int32
}

// enter increments the sender count and reports whether the caller may
// proceed to write the frame (no closer has claimed the slot yet).
func (s *sendStatus) enter() bool {
	v := s.word.Add(1)
	return v&(maxClosers*sendStatusClosing) == 0
}

// leave decrements the sender count after a send attempt (successful
// or dropped).
func (s *sendStatus) leave() {
	s.word.Add(-1)
}

// beginClose implements spec.md §5's closer protocol. The original
// TCPStream.cpp reads the word and then adds K as two separate steps,
// with a comment acknowledging the gap ("FIXME we want to |= here");
// two concurrent closers can both observe "no closer yet" before
// either's add lands, and both believe they're first. Here the
// read-and-claim is one CompareAndSwap loop instead, so exactly one
// caller observes alreadyClosing==false for a given word value. The
// winner then spins until every concurrent sender has exited (the low
// bits read back to zero); everyone else just adds K and returns.
func (s *sendStatus) beginClose() (isFirst bool) {
	var alreadyClosing bool
	for {
		v := s.word.Load()
		alreadyClosing = v&(maxClosers*sendStatusClosing) != 0
		if s.word.CompareAndSwap(v, v+sendStatusClosing) {
			break
		}
	}
	if alreadyClosing {
		return false
	}
	for {
		v := s.word.Load()
		if v == sendStatusClosing || v == 2*sendStatusClosing || v == 3*sendStatusClosing {
			return true
		}
	}
}

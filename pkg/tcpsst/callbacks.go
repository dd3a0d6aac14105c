package tcpsst

import (
	"context"

	"github.com/tcpsst/tcpsst/pkg/logger"
	"github.com/tcpsst/tcpsst/pkg/reactor"
	"github.com/tcpsst/tcpsst/pkg/subid"
	"golang.org/x/sync/semaphore"
)

// callbackDispatcher runs user callbacks on the owning Reactor, never
// while the caller holds the stream-table lock, and bounds how many
// may execute concurrently — a concrete reading of spec.md §4.6's
// "bounds re-entrancy," which the distilled spec leaves unspecified as
// to mechanism. Grounded on golang.org/x/sync/semaphore as pulled in by
// dep2p-go-dep2p's go.mod for bounded I/O concurrency there, and on
// DESIGN NOTES' "copy out the callback handle first" instruction plus
// solomonwzs-muxstream/stream.go's event-channel indirection (which
// already never calls user code while holding streamManager's map).
type callbackDispatcher struct {
	reactor reactor.Reactor
	sem     *semaphore.Weighted
	log     *logger.Logger
}

func newCallbackDispatcher(r reactor.Reactor, weight int64) *callbackDispatcher {
	return &callbackDispatcher{
		reactor: r,
		sem:     semaphore.NewWeighted(weight),
		log:     logger.Tagged("callbacks"),
	}
}

// run posts fn to the reactor, acquiring the bound before invoking it
// and tagging the invocation with a fresh subid for log correlation.
func (d *callbackDispatcher) run(fn func()) {
	if fn == nil {
		return
	}
	id := subid.New()
	d.reactor.Post(func(ctx context.Context) {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.log.Debugf(logger.Debug, "callback %d dropped: %v", id, err)
			return
		}
		defer d.sem.Release(1)
		fn()
	})
}

func (d *callbackDispatcher) dispatchConnected(cb ConnectedCallback, success bool) {
	if cb == nil {
		return
	}
	d.run(func() { cb(success) })
}

func (d *callbackDispatcher) dispatchBytesReceived(cb BytesReceivedCallback, payload []byte) {
	if cb == nil {
		return
	}
	d.run(func() { cb(payload) })
}

func (d *callbackDispatcher) dispatchDisconnected(cb DisconnectedCallback, reason error) {
	if cb == nil {
		return
	}
	d.run(func() { cb(reason) })
}

func (d *callbackDispatcher) dispatchSubstream(cb SubstreamCallback, stream *LogicalStream) {
	if cb == nil {
		return
	}
	d.run(func() { cb(stream) })
}

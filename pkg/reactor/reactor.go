// Package reactor is the explicit event-loop collaborator spec.md §6
// and §9 describe: post/dispatch/run/poll/stop/reset, passed explicitly
// into Listen/Connect rather than pulled from a process-wide singleton
// (DESIGN NOTES' recommended rearchitecture). Default is a thin,
// lazily-initialized convenience accessor for callers that don't need
// their own — the core never calls it itself.
//
// Grounded on solomonwzs-muxstream/session.go's serv()/event-channel
// worker loop for the single-goroutine-drains-a-channel shape, and on
// original_source/libcore/src/network/IOServiceFactory.cpp for the
// method set. Go has no portable way to ask "am I running on goroutine
// X", so "dispatch inline if already on the reactor" is expressed by
// threading a context.Context carrying the reactor's identity through
// every Job the loop invokes, rather than the runtime-stack-parsing
// tricks some libraries resort to: code running inside a Job already
// holds that context and can Dispatch with it; code starting fresh
// (a user goroutine, a socket read) has no such context and falls back
// to Post.
package reactor

import (
	"context"
	"sync"
)

// Job is a unit of work the reactor runs on its own goroutine. It
// receives the reactor-tagged context so it can Dispatch further work
// inline.
type Job func(ctx context.Context)

// Reactor serializes callback execution onto a single goroutine.
type Reactor interface {
	// Post always enqueues job to run later on the reactor's goroutine.
	Post(job Job)
	// Dispatch runs job immediately if ctx shows the caller is already
	// executing on this reactor's goroutine, otherwise it posts.
	Dispatch(ctx context.Context, job Job)
	// Run drains the job queue until ctx is done or Stop is called.
	Run(ctx context.Context) error
	// Poll runs all currently-queued jobs without blocking and returns
	// how many ran.
	Poll() int
	// Stop causes a running Run to return and further Post calls to be
	// dropped.
	Stop()
	// Reset reverses Stop, allowing the Reactor to be Run again.
	Reset()
}

type reactorKey struct{}

type reactor struct {
	jobs chan Job

	mu      sync.Mutex
	stopped chan struct{}
}

// New constructs an explicit Reactor value with the given job queue
// depth. The caller owns it and decides when/where to Run it.
func New(queueSize int) Reactor {
	return &reactor{
		jobs:    make(chan Job, queueSize),
		stopped: make(chan struct{}),
	}
}

func (r *reactor) onReactor(ctx context.Context) bool {
	v, _ := ctx.Value(reactorKey{}).(*reactor)
	return v == r
}

func (r *reactor) Post(job Job) {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	select {
	case <-stopped:
		return
	default:
	}
	select {
	case r.jobs <- job:
	case <-stopped:
	}
}

func (r *reactor) Dispatch(ctx context.Context, job Job) {
	if r.onReactor(ctx) {
		job(ctx)
		return
	}
	r.Post(job)
}

func (r *reactor) taggedContext(parent context.Context) context.Context {
	return context.WithValue(parent, reactorKey{}, r)
}

func (r *reactor) Run(ctx context.Context) error {
	rctx := r.taggedContext(ctx)
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopped:
			return nil
		case job := <-r.jobs:
			job(rctx)
		}
	}
}

func (r *reactor) Poll() int {
	rctx := r.taggedContext(context.Background())
	n := 0
	for {
		select {
		case job := <-r.jobs:
			job(rctx)
			n++
		default:
			return n
		}
	}
}

func (r *reactor) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.stopped:
	default:
		close(r.stopped)
	}
}

func (r *reactor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = make(chan struct{})
}

var (
	defaultOnce sync.Once
	defaultInst Reactor
	defaultCtx  context.Context
	defaultStop context.CancelFunc
)

// Default returns a lazily-started, process-wide Reactor for
// convenience callers (the demo CLI, ad-hoc tests) that don't want to
// own one themselves. The core (Listen/Connect) never calls this.
func Default() Reactor {
	defaultOnce.Do(func() {
		defaultInst = New(256)
		defaultCtx, defaultStop = context.WithCancel(context.Background())
		go defaultInst.Run(defaultCtx)
	})
	return defaultInst
}

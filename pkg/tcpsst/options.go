package tcpsst

import "time"

const (
	defaultWidth           = 3
	defaultHighWaterMark   = 256
	defaultCallbackWeight  = 8
	defaultCloseAckTimeout = 5 * time.Second
	defaultSubConnQueue    = 64
)

// Config configures a MultiplexedSocket's construction, builder-style
// like muxstream's Config.
type Config struct {
	width           int
	highWaterMark   int
	callbackWeight  int64
	closeAckTimeout time.Duration
	subConnQueue    int
}

// DefaultConfig returns the default multiplex width (3), per-sub-
// connection queue depth, and close-ack timeout spec.md §4.3/§5 assume.
func DefaultConfig() *Config {
	return &Config{
		width:           defaultWidth,
		highWaterMark:   defaultHighWaterMark,
		callbackWeight:  defaultCallbackWeight,
		closeAckTimeout: defaultCloseAckTimeout,
		subConnQueue:    defaultSubConnQueue,
	}
}

// SetWidth sets the multiplex width negotiated at connect time.
func (c *Config) SetWidth(width int) *Config {
	if width >= 1 {
		c.width = width
	}
	return c
}

// SetHighWaterMark sets the per-sub-connection queue depth past which
// unreliable sends are dropped (spec.md §4.3/§8 S5).
func (c *Config) SetHighWaterMark(n int) *Config {
	if n >= 1 {
		c.highWaterMark = n
	}
	return c
}

// SetCallbackConcurrency bounds how many user callbacks may execute
// concurrently for one MultiplexedSocket (spec.md §4.6's re-entrancy
// bound, a semaphore.Weighted capacity).
func (c *Config) SetCallbackConcurrency(n int64) *Config {
	if n >= 1 {
		c.callbackWeight = n
	}
	return c
}

// SetCloseAckTimeout sets how long a local close() waits for the
// peer's ACK_CLOSE before unconditionally retiring the stream id
// (spec.md §4.3, "a timeout retires unconditionally").
func (c *Config) SetCloseAckTimeout(d time.Duration) *Config {
	if d > 0 {
		c.closeAckTimeout = d
	}
	return c
}

// SetSubConnQueueDepth sets the buffered-channel capacity of each
// sub-connection's outbound FIFO.
func (c *Config) SetSubConnQueueDepth(n int) *Config {
	if n >= 1 {
		c.subConnQueue = n
	}
	return c
}

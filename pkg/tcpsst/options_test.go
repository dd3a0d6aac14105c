package tcpsst

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, defaultWidth, c.width)
	assert.Equal(t, defaultHighWaterMark, c.highWaterMark)
}

func TestConfigBuilderChaining(t *testing.T) {
	c := DefaultConfig().
		SetWidth(5).
		SetHighWaterMark(10).
		SetCallbackConcurrency(2).
		SetCloseAckTimeout(time.Second)

	assert.Equal(t, 5, c.width)
	assert.Equal(t, 10, c.highWaterMark)
	assert.Equal(t, int64(2), c.callbackWeight)
	assert.Equal(t, time.Second, c.closeAckTimeout)
}

func TestConfigBuilderRejectsInvalid(t *testing.T) {
	c := DefaultConfig().SetWidth(0).SetHighWaterMark(-1).SetCloseAckTimeout(-time.Second)
	assert.Equal(t, defaultWidth, c.width)
	assert.Equal(t, defaultHighWaterMark, c.highWaterMark)
	assert.Equal(t, defaultCloseAckTimeout, c.closeAckTimeout)
}

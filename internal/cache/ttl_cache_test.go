package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/pavetrack/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCacheWithClock[string, []string](clk)

	c.Set("user-1", []string{"Apontador"}, time.Minute)
	got, ok := c.Get("user-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"Apontador"}, got)

	clk.Advance(59 * time.Second)
	_, ok = c.Get("user-1")
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get("user-1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheDeleteAndZeroTTL(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, 0)
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("b", 2, time.Hour)
	c.Delete("b")
	_, ok = c.Get("b")
	assert.False(t, ok)
}

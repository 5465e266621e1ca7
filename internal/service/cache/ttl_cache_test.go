package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCompute(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewTTLCache().WithClock(func() time.Time { return now })
	calls := 0
	fn := func() (int, error) {
		calls++
		return calls * 10, nil
	}

	v, err := GetOrCompute(c, "risk:BTC", 5*time.Second, fn)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	v, _ = GetOrCompute(c, "risk:BTC", 5*time.Second, fn)
	assert.Equal(t, 10, v, "served from cache")

	now = now.Add(6 * time.Second)
	v, _ = GetOrCompute(c, "risk:BTC", 5*time.Second, fn)
	assert.Equal(t, 20, v, "expired")

	_, err = GetOrCompute(c, "risk:ETH", time.Second, func() (int, error) { return 0, errors.New("no data") })
	require.Error(t, err)
	_, ok := c.Get("risk:ETH")
	assert.False(t, ok, "errors are not cached")
}

func TestInvalidate(t *testing.T) {
	c := NewTTLCache()
	c.Set("backtest:BTC", 1, 0)
	c.Set("backtest:ETH", 2, 0)
	c.Set("risk:BTC", 3, 0)
	c.Invalidate("backtest:")
	_, ok := c.Get("backtest:BTC")
	assert.False(t, ok)
	_, ok = c.Get("risk:BTC")
	assert.True(t, ok)
}

package tick

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTick(symbol string, price, qty float64, ts time.Time) Tick {
	return Tick{Symbol: symbol, Price: price, Quantity: qty, Timestamp: ts}
}

func TestNewBuffer(t *testing.T) {
	t.Run("Rejects non-positive capacity", func(t *testing.T) {
		_, err := NewBuffer(0, 0)
		assert.Error(t, err)
		_, err = NewBuffer(-5, 0)
		assert.Error(t, err)
	})

	t.Run("Rejects negative tolerance", func(t *testing.T) {
		_, err := NewBuffer(10, -time.Second)
		assert.Error(t, err)
	})
}

func TestBuffer_Add(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Accepts valid ticks in order", func(t *testing.T) {
		b, err := NewBuffer(10, 0)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			err := b.Add(testTick("BTCUSDT", 50000+float64(i), 0.5, now.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
		}

		assert.Equal(t, 5, b.Len("BTCUSDT"))
		assert.Equal(t, uint64(5), b.Stats().Accepted)
	})

	t.Run("Rejects malformed ticks", func(t *testing.T) {
		b, err := NewBuffer(10, 0)
		require.NoError(t, err)

		cases := []Tick{
			testTick("BTCUSDT", 0, 1, now),
			testTick("BTCUSDT", -1, 1, now),
			testTick("BTCUSDT", 100, 0, now),
			testTick("BTCUSDT", 100, -0.5, now),
			testTick("BTCUSDT", math.NaN(), 1, now),
			testTick("BTCUSDT", math.Inf(1), 1, now),
			testTick("BTCUSDT", 100, math.NaN(), now),
			testTick("", 100, 1, now),
		}
		for _, c := range cases {
			assert.Error(t, b.Add(c))
		}

		assert.Equal(t, 0, b.Len("BTCUSDT"))
		assert.Equal(t, uint64(len(cases)), b.Stats().Rejected)
	})

	t.Run("Drops out-of-order ticks beyond tolerance", func(t *testing.T) {
		b, err := NewBuffer(10, 100*time.Millisecond)
		require.NoError(t, err)

		require.NoError(t, b.Add(testTick("ETHUSDT", 3000, 1, now)))

		// Within tolerance: accepted.
		require.NoError(t, b.Add(testTick("ETHUSDT", 3001, 1, now.Add(-50*time.Millisecond))))

		// Beyond tolerance: dropped.
		err = b.Add(testTick("ETHUSDT", 3002, 1, now.Add(-time.Second)))
		assert.ErrorIs(t, err, ErrOutOfOrderTick)

		assert.Equal(t, 2, b.Len("ETHUSDT"))
		assert.Equal(t, uint64(1), b.Stats().OutOfOrder)
	})

	t.Run("Evicts oldest at capacity", func(t *testing.T) {
		b, err := NewBuffer(3, 0)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			require.NoError(t, b.Add(testTick("BTCUSDT", 100+float64(i), 1, now.Add(time.Duration(i)*time.Second))))
		}

		recent := b.Recent("BTCUSDT", 0)
		require.Len(t, recent, 3)
		assert.Equal(t, 102.0, recent[0].Price)
		assert.Equal(t, 104.0, recent[2].Price)
		assert.Equal(t, uint64(2), b.Stats().Evicted)
	})

	t.Run("Symbols are independent", func(t *testing.T) {
		b, err := NewBuffer(10, 0)
		require.NoError(t, err)

		require.NoError(t, b.Add(testTick("BTCUSDT", 50000, 1, now)))
		require.NoError(t, b.Add(testTick("ETHUSDT", 3000, 1, now.Add(-time.Hour))))

		assert.Equal(t, 1, b.Len("BTCUSDT"))
		assert.Equal(t, 1, b.Len("ETHUSDT"))
	})
}

func TestBuffer_Recent(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	b, err := NewBuffer(10, 0)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Add(testTick("BTCUSDT", 100+float64(i), 1, now.Add(time.Duration(i)*time.Second))))
	}

	t.Run("Returns last n oldest first", func(t *testing.T) {
		recent := b.Recent("BTCUSDT", 2)
		require.Len(t, recent, 2)
		assert.Equal(t, 102.0, recent[0].Price)
		assert.Equal(t, 103.0, recent[1].Price)
	})

	t.Run("Returned slice is a copy", func(t *testing.T) {
		recent := b.Recent("BTCUSDT", 1)
		recent[0].Price = -1
		again := b.Recent("BTCUSDT", 1)
		assert.Equal(t, 103.0, again[0].Price)
	})

	t.Run("Unknown symbol yields empty slice", func(t *testing.T) {
		assert.Empty(t, b.Recent("DOGEUSDT", 5))
	})
}

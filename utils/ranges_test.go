package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockRangeCoversIndexSpace(t *testing.T) {
	for _, tc := range []struct{ n, size int }{
		{10, 1}, {10, 2}, {10, 3}, {10, 4}, {3, 5}, {0, 3}, {1000, 7},
	} {
		next := 0
		for rank := 0; rank < tc.size; rank++ {
			start, end := BlockRange(tc.n, tc.size, rank)
			if tc.n == 0 {
				assert.Equal(t, 0, end-start)
				continue
			}
			assert.Equal(t, next, start, "n=%d size=%d rank=%d", tc.n, tc.size, rank)
			assert.GreaterOrEqual(t, end, start)
			next = end
		}
		if tc.n > 0 {
			assert.Equal(t, tc.n, next, "n=%d size=%d", tc.n, tc.size)
		}
	}
}

func TestBlockRangeBalance(t *testing.T) {
	start, end := BlockRange(10, 3, 0)
	assert.Equal(t, [2]int{0, 4}, [2]int{start, end})
	start, end = BlockRange(10, 3, 1)
	assert.Equal(t, [2]int{4, 7}, [2]int{start, end})
	start, end = BlockRange(10, 3, 2)
	assert.Equal(t, [2]int{7, 10}, [2]int{start, end})
}

func TestPrefixRangesAndOwner(t *testing.T) {
	offsets, err := PrefixRanges([]int{6, 0, 4})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 6, 6, 10}, offsets)

	assert.Equal(t, 0, OwnerOf(offsets, 0))
	assert.Equal(t, 0, OwnerOf(offsets, 5))
	assert.Equal(t, 2, OwnerOf(offsets, 6))
	assert.Equal(t, 2, OwnerOf(offsets, 9))
	assert.Equal(t, -1, OwnerOf(offsets, 10))
	assert.Equal(t, -1, OwnerOf(offsets, -1))

	_, err = PrefixRanges([]int{1, -2})
	assert.Error(t, err)
}

func TestWallClockTimerLaps(t *testing.T) {
	clock := time.Unix(0, 0)
	timer := &WallClockTimer{now: func() time.Time { return clock }}
	timer.Start()

	clock = clock.Add(2 * time.Second)
	assert.Equal(t, 2*time.Second, timer.Lap("read"))
	clock = clock.Add(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, timer.Lap("assemble"))

	phases := timer.Phases()
	require.Len(t, phases, 2)
	assert.Equal(t, "read", phases[0].Name)
	assert.Equal(t, 2500*time.Millisecond, timer.Elapsed())
	assert.Contains(t, timer.String(), "assemble")
}

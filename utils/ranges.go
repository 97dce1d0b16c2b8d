package utils

import "fmt"

// BlockRange returns the half-open ownership range [start, end) of rank within
// a global index space of n entries split over size ranks. The first n%size
// ranks get one extra entry, so every rank derives the same layout from n alone.
func BlockRange(n, size, rank int) (start, end int) {
	if size <= 0 || rank < 0 || rank >= size || n <= 0 {
		return 0, 0
	}
	base, extra := n/size, n%size
	start = rank*base + min(rank, extra)
	end = start + base
	if rank < extra {
		end++
	}
	return
}

// PrefixRanges turns per-rank local sizes into contiguous ownership ranges.
// Offsets has len(sizes)+1 entries: rank r owns [Offsets[r], Offsets[r+1]).
func PrefixRanges(sizes []int) (offsets []int, err error) {
	offsets = make([]int, len(sizes)+1)
	for r, n := range sizes {
		if n < 0 {
			return nil, fmt.Errorf("rank %d: negative local size %d", r, n)
		}
		offsets[r+1] = offsets[r] + n
	}
	return offsets, nil
}

// OwnerOf finds the rank whose range in offsets contains index, or -1.
func OwnerOf(offsets []int, index int) int {
	if len(offsets) < 2 || index < offsets[0] || index >= offsets[len(offsets)-1] {
		return -1
	}
	// Last rank whose start is <= index; empty ranges sharing a start are skipped
	lo, hi := 0, len(offsets)-2
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if offsets[mid] <= index {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

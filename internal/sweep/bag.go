package sweep

import (
	"math/rand"

	"arrsweep/internal/state"
)

// Draw reconciles the lane's shuffle bag against the fresh eligible pool
// and draws up to n IDs without repeating any ID until the whole pool has
// been returned once.
//
// Steps:
//  1. IDs that left the pool are dropped from the bag.
//  2. An empty bag (first use, exhausted cycle, or emptied by
//     reconciliation) is refilled with a fresh random permutation of the
//     pool. IDs that appear mid-cycle wait for this refill; that
//     imprecision is deliberate.
//  3. Up to n IDs are consumed from the front of the permutation and
//     returned in draw order.
//
// An empty pool yields an empty draw and leaves the bag empty.
func Draw(bag *state.Bag, pool []int64, n int, rng *rand.Rand) []int64 {
	in := make(map[int64]struct{}, len(pool))
	for _, id := range pool {
		in[id] = struct{}{}
	}

	remaining := bag.Remaining[:0]
	for _, id := range bag.Remaining {
		if _, ok := in[id]; ok {
			remaining = append(remaining, id)
		}
	}

	if len(remaining) == 0 {
		remaining = append([]int64(nil), pool...)
		rng.Shuffle(len(remaining), func(i, j int) {
			remaining[i], remaining[j] = remaining[j], remaining[i]
		})
	}

	if n < 0 {
		n = 0
	}
	if n > len(remaining) {
		n = len(remaining)
	}

	drawn := append([]int64(nil), remaining[:n]...)
	bag.Remaining = append([]int64(nil), remaining[n:]...)
	return drawn
}

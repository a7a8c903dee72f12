package cvs

import (
	"math/bits"
	"slices"
)

// SelectTopK writes the indices of the n highest scores into dst, ordered by
// score descending, and their scores into vals when it is not nil. Equal
// scores are ordered by index, lower first. order is an optional index
// buffer; the (possibly grown) buffer is returned for reuse. n must not
// exceed len(scores).
//
// For small n it takes n successive maxima, skipping earlier winners;
// otherwise it sorts all indices.
func SelectTopK[T Number](scores []T, n int, dst []int32, vals []T, order []int32) []int32 {
	if n <= bits.Len(uint(len(scores))) {
		successiveMaxima(scores, n, dst, vals)
		return order
	}
	return sortedTopK(scores, n, dst, vals, order)
}

func successiveMaxima[T Number](scores []T, n int, dst []int32, vals []T) {
	for k := 0; k < n; k++ {
		best := -1
		for i, s := range scores {
			if best >= 0 && s <= scores[best] {
				continue
			}
			if slices.Contains(dst[:k], int32(i)) {
				continue
			}
			best = i
		}
		dst[k] = int32(best)
		if vals != nil {
			vals[k] = scores[best]
		}
	}
}

func sortedTopK[T Number](scores []T, n int, dst []int32, vals []T, order []int32) []int32 {
	if cap(order) < len(scores) {
		order = make([]int32, len(scores))
	}
	order = order[:len(scores)]
	for i := range order {
		order[i] = int32(i)
	}
	slices.SortFunc(order, func(a, b int32) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return int(a - b)
	})
	copy(dst, order[:n])
	if vals != nil {
		for k, i := range order[:n] {
			vals[k] = scores[i]
		}
	}
	return order
}

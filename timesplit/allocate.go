// Package timesplit divides one measured duration across several jobs.
package timesplit

import (
	"math/big"
	"sort"
)

// Allocate splits total seconds across len(weights) jobs in proportion to
// their weights using the largest-remainder method. The result always sums
// to total and every entry is non-negative. Weights at or below zero count
// as 1. A negative total is treated as zero.
//
// Fractions are computed exactly, so identical inputs always produce
// identical outputs and ties between equal remainders go to the earlier job.
func Allocate(total int64, weights []float64) []int64 {
	n := len(weights)
	if n == 0 {
		return nil
	}
	if total < 0 {
		total = 0
	}

	ws := make([]*big.Rat, n)
	sum := new(big.Rat)
	for i, w := range weights {
		ws[i] = Normalize(w)
		sum.Add(sum, ws[i])
	}

	out := make([]int64, n)
	rems := make([]*big.Rat, n)
	assigned := int64(0)
	t := new(big.Rat).SetInt64(total)
	for i, w := range ws {
		exact := new(big.Rat).Mul(t, w)
		exact.Quo(exact, sum)

		floor := new(big.Int).Quo(exact.Num(), exact.Denom())
		out[i] = floor.Int64()
		assigned += out[i]
		rems[i] = new(big.Rat).Sub(exact, new(big.Rat).SetInt(floor))
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rems[order[a]].Cmp(rems[order[b]]) > 0
	})
	for k := int64(0); k < total-assigned; k++ {
		out[order[int(k)%n]]++
	}
	return out
}

// Normalize converts a weight to an exact rational, mapping non-positive,
// NaN and infinite values to 1.
func Normalize(w float64) *big.Rat {
	if w <= 0 {
		return big.NewRat(1, 1)
	}
	r := new(big.Rat)
	if r.SetFloat64(w) == nil {
		return big.NewRat(1, 1)
	}
	return r
}

// Weight is the planned effort of a job: setup time plus per-piece time for
// the quantity still to be made.
func Weight(setup, perPiece float64, remaining int) float64 {
	return setup + perPiece*float64(remaining)
}

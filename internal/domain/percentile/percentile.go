// Package percentile ranks a value against a sorted population.
package percentile

import "sort"

// Index is an immutable, ascending copy of a population of values.
// It is safe for concurrent reads.
type Index struct {
	sorted []float64
}

// New builds an index from values. The input is copied and sorted.
func New(values []float64) *Index {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return &Index{sorted: sorted}
}

// FromSorted wraps values that are already ascending without copying.
func FromSorted(values []float64) *Index {
	return &Index{sorted: values}
}

// Rank returns the share of the population strictly below v, in [0, 100).
// An empty index ranks everything 0.
func (i *Index) Rank(v float64) float64 {
	n := len(i.sorted)
	if n == 0 {
		return 0
	}
	below := sort.SearchFloat64s(i.sorted, v)
	return float64(below) / float64(n) * 100
}

// Len returns the population size.
func (i *Index) Len() int { return len(i.sorted) }

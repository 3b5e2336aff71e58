package util

import "sort"

// MergeSorted concatenates a and b and returns the combination sorted
// ascending. Callers typically pass lists that are already sorted, which
// keeps the final sort cheap, but the result is correct for arbitrary
// inputs: it is always a sorted permutation of the concatenation.
func MergeSorted(a, b []int) []int {
	merged := make([]int, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sort.Ints(merged)
	return merged
}

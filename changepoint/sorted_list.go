package changepoint

import "sort"

// sortedList is an ascending list of floats.
type sortedList []float64

// newSortedList copies and sorts values.
func newSortedList(values []float64) sortedList {
	s := make(sortedList, len(values))
	copy(s, values)
	sort.Float64s(s)
	return s
}

// Median of the list, averaging the two central values for even lengths.
func (s sortedList) Median() float64 {
	length := len(s)
	if length == 0 {
		return 0
	}
	center := length / 2
	if length%2 != 0 {
		return s[center]
	}
	return (s[center] + s[center-1]) / 2.0
}

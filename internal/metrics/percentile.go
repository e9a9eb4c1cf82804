package metrics

import "sort"

// Percentile computes the exact percentile of data using linear
// interpolation between adjacent sorted values. The percentile parameter is
// in [0, 100]. The input slice is not modified.
func Percentile(data []float64, percentile float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	position := (percentile / 100.0) * float64(len(sorted)-1)

	lowerIndex := int(position)
	upperIndex := lowerIndex + 1

	if lowerIndex < 0 {
		lowerIndex = 0
	}
	if upperIndex >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	fraction := position - float64(lowerIndex)
	return sorted[lowerIndex] + fraction*(sorted[upperIndex]-sorted[lowerIndex])
}

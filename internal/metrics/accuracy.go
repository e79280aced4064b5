package metrics

// TopK returns the fraction of rows whose label is among the k largest
// logits. Ties rank by index, lower first.
func TopK(logits [][]float32, labels []int, k int) float64 {
	if len(labels) == 0 {
		return 0
	}
	hits := 0
	for i, row := range logits {
		y := labels[i]
		if y < 0 || y >= len(row) {
			continue
		}
		// Count entries that outrank the label.
		ahead := 0
		for j, v := range row {
			if v > row[y] || (v == row[y] && j < y) {
				ahead++
			}
		}
		if ahead < k {
			hits++
		}
	}
	return float64(hits) / float64(len(labels))
}

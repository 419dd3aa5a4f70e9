package recommend

import (
	"fmt"
	"sort"
)

// DefaultMinPopularRatings is the minimum number of ratings a product needs
// to appear in the popularity ranking.
const DefaultMinPopularRatings = 5

// Popular ranks products with at least minRatings ratings by mean rating,
// highest first. Ties keep column order. minRatings <= 0 means
// DefaultMinPopularRatings.
func Popular(m *Matrix, minRatings int) []Recommendation {
	if minRatings <= 0 {
		minRatings = DefaultMinPopularRatings
	}
	var out []Recommendation
	for col := 0; col < m.NumProducts(); col++ {
		count, mean := m.ColumnStats(col)
		if count < minRatings {
			continue
		}
		out = append(out, Recommendation{
			ProductID:   m.products[col],
			Score:       mean,
			Explanation: fmt.Sprintf("Popular with other shoppers: average rating %.1f from %d ratings", mean, count),
			ColdStart:   true,
		})
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	return out
}

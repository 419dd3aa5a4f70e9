package ingest

import (
	"sort"

	"github.com/kalambet/prodrec/internal/storage"
)

// FilterOptions bounds a raw ratings dump to a dense, manageable subset.
// Zero values disable the corresponding bound.
type FilterOptions struct {
	MinPerUser    int
	MinPerProduct int
	MaxUsers      int
	MaxProducts   int
}

// Filter keeps users with at least MinPerUser ratings, then products with
// at least MinPerProduct ratings among those users. Finally it keeps only
// the MaxUsers most active of those users (counted over the whole input)
// and the MaxProducts most rated products. Count ties go to the smaller ID.
// The input order of surviving ratings is preserved.
func Filter(ratings []storage.Rating, opts FilterOptions) []storage.Rating {
	userCounts := make(map[string]int)
	for _, r := range ratings {
		userCounts[r.UserID]++
	}
	validUsers := make(map[string]bool)
	for u, n := range userCounts {
		if n >= opts.MinPerUser {
			validUsers[u] = true
		}
	}

	productCounts := make(map[string]int)
	for _, r := range ratings {
		if validUsers[r.UserID] {
			productCounts[r.ProductID]++
		}
	}
	validProducts := make(map[string]bool)
	for p, n := range productCounts {
		if n >= opts.MinPerProduct {
			validProducts[p] = true
		}
	}

	topUsers := topByCount(validUsers, userCounts, opts.MaxUsers)
	topProducts := topByCount(validProducts, productCounts, opts.MaxProducts)

	var out []storage.Rating
	for _, r := range ratings {
		if topUsers[r.UserID] && topProducts[r.ProductID] {
			out = append(out, r)
		}
	}
	return out
}

func topByCount(ids map[string]bool, counts map[string]int, limit int) map[string]bool {
	if limit <= 0 || len(ids) <= limit {
		return ids
	}
	ranked := make([]string, 0, len(ids))
	for id := range ids {
		ranked = append(ranked, id)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	out := make(map[string]bool, limit)
	for _, id := range ranked[:limit] {
		out[id] = true
	}
	return out
}

// PlaceholderProducts returns catalog entries for product IDs that have no
// real metadata, in the order given.
func PlaceholderProducts(ids []string) []storage.Product {
	out := make([]storage.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, storage.Product{
			ID:          id,
			Title:       "Product " + id,
			Description: "Description for product " + id,
			Category:    "Electronics",
		})
	}
	return out
}

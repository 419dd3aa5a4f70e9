package recommend

import (
	"fmt"
	"sort"
)

// DefaultTopN is the number of recommendations returned when callers pass
// topN <= 0.
const DefaultTopN = 5

// Recommendation is a scored product suggestion.
type Recommendation struct {
	ProductID   string  `json:"product_id"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
	ColdStart   bool    `json:"cold_start,omitempty"`
}

// HistoryEntry is one rating from a user's history.
type HistoryEntry struct {
	ProductID string  `json:"product_id"`
	Rating    float64 `json:"rating"`
}

// Engine predicts ratings for unrated products from the ratings of similar
// users. It is read-only and safe for concurrent use.
type Engine struct {
	matrix  *Matrix
	users   *UserIndex
	popular []Recommendation
}

// NewEngine creates an Engine over a built matrix and its user index. The
// popularity ranking used for unknown users only includes products with at
// least minPopularRatings ratings. A nil matrix yields an engine that knows
// no users and has no popular products.
func NewEngine(m *Matrix, users *UserIndex, minPopularRatings int) *Engine {
	return &Engine{
		matrix:  m,
		users:   users,
		popular: Popular(m, minPopularRatings),
	}
}

// Recommend returns up to topN products for userID, best first.
//
// Known users get the similarity-weighted average of their kNeighbors
// nearest neighbors' ratings for every product they have not rated. Unrated
// neighbor cells stay in both sums, which pulls the score down for products
// few neighbors rated. Products no neighbor rated are skipped.
//
// Unknown users get the popularity ranking instead; that path never fails.
func (e *Engine) Recommend(userID string, kNeighbors, topN int) ([]Recommendation, error) {
	if topN <= 0 {
		topN = DefaultTopN
	}

	row, ok := e.matrix.userRow(userID)
	if !ok {
		return e.ColdStart(topN), nil
	}

	neighbors, err := e.users.Neighbors(userID, kNeighbors)
	if err != nil {
		return nil, fmt.Errorf("finding neighbors: %w", err)
	}

	var preds []Recommendation
	for col, v := range e.matrix.cells[row] {
		if v != Unrated {
			continue
		}
		score, ok := e.predict(col, neighbors)
		if !ok {
			continue
		}
		preds = append(preds, Recommendation{
			ProductID:   e.matrix.products[col],
			Score:       score,
			Explanation: e.explain(col, neighbors),
		})
	}

	sort.SliceStable(preds, func(a, b int) bool {
		return preds[a].Score > preds[b].Score
	})
	if len(preds) > topN {
		preds = preds[:topN]
	}
	return preds, nil
}

// predict returns the weighted rating for column col, or false when no
// neighbor rated it or all neighbor weights are zero.
func (e *Engine) predict(col int, neighbors []Neighbor) (float64, bool) {
	var num, den float64
	rated := false
	for _, n := range neighbors {
		r := e.matrix.cells[n.row][col]
		if r != Unrated {
			rated = true
		}
		num += n.Similarity * r
		den += n.Similarity
	}
	if !rated || den == 0 {
		return 0, false
	}
	return num / den, true
}

// ColdStart returns the top n products of the popularity ranking.
func (e *Engine) ColdStart(n int) []Recommendation {
	if n <= 0 {
		n = DefaultTopN
	}
	if n > len(e.popular) {
		n = len(e.popular)
	}
	return append([]Recommendation(nil), e.popular[:n]...)
}

// KnowsUser reports whether userID has a row in the engine's matrix.
func (e *Engine) KnowsUser(userID string) bool {
	return e.matrix.HasUser(userID)
}

// History returns the user's ratings in column order.
func (e *Engine) History(userID string) ([]HistoryEntry, error) {
	row, ok := e.matrix.userRow(userID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}
	var out []HistoryEntry
	for col, v := range e.matrix.cells[row] {
		if v == Unrated {
			continue
		}
		out = append(out, HistoryEntry{ProductID: e.matrix.products[col], Rating: v})
	}
	return out, nil
}

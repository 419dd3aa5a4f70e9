package recommend

import (
	"fmt"
	"math"
	"sort"
)

// DefaultNeighbors is the neighborhood size used when callers pass k <= 0.
const DefaultNeighbors = 10

// Neighbor is a user similar to the target user.
type Neighbor struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`

	row int
}

// UserIndex holds pairwise cosine similarities between the rows of a Matrix.
type UserIndex struct {
	matrix *Matrix
	sims   [][]float64
}

// BuildUserIndex computes cosine similarity for every pair of users.
// Unrated cells are zero, so products neither user rated drop out of the
// dot product and users with few ratings get a small norm.
func BuildUserIndex(m *Matrix) *UserIndex {
	n := m.NumUsers()
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		norms[i] = norm(m.cells[i])
	}

	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		if norms[i] > 0 {
			sims[i][i] = 1
		}
		for j := i + 1; j < n; j++ {
			s := cosine(m.cells[i], m.cells[j], norms[i], norms[j])
			sims[i][j] = s
			sims[j][i] = s
		}
	}
	return &UserIndex{matrix: m, sims: sims}
}

// Similarity returns sim(u, v).
func (x *UserIndex) Similarity(u, v string) (float64, error) {
	i, ok := x.matrix.userRow(u)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUser, u)
	}
	j, ok := x.matrix.userRow(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUser, v)
	}
	return x.sims[i][j], nil
}

// Neighbors returns the k users most similar to userID, excluding userID
// itself. Ties keep row order. k <= 0 means DefaultNeighbors.
func (x *UserIndex) Neighbors(userID string, k int) ([]Neighbor, error) {
	if x == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}
	i, ok := x.matrix.userRow(userID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}
	if k <= 0 {
		k = DefaultNeighbors
	}

	candidates := make([]Neighbor, 0, len(x.sims)-1)
	for j, s := range x.sims[i] {
		if j == i {
			continue
		}
		candidates = append(candidates, Neighbor{UserID: x.matrix.users[j], Similarity: s, row: j})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Similarity > candidates[b].Similarity
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func norm(v []float64) float64 {
	var sum float64
	for _, f := range v {
		sum += f * f
	}
	return math.Sqrt(sum)
}

// cosine returns dot(a,b) / (aNorm*bNorm), or 0 when either norm is 0.
func cosine(a, b []float64, aNorm, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (aNorm * bNorm)
}

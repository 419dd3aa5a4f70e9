package recommend

import (
	"fmt"
	"sort"
	"time"
)

// Unrated marks a matrix cell with no rating. It is never a legal rating
// value, so every row or column summary must skip it.
const Unrated = 0.0

const (
	MinRating = 1.0
	MaxRating = 5.0
)

// Rating is a single user's rating of a product.
type Rating struct {
	UserID    string
	ProductID string
	Value     float64
	Timestamp time.Time // zero when unknown
}

// Matrix is a dense users x products rating table. Rows and columns are
// sorted by ID, so building from the same ratings in any order yields the
// same matrix. A Matrix is immutable once built.
type Matrix struct {
	users    []string
	products []string
	userPos  map[string]int
	prodPos  map[string]int
	cells    [][]float64

	overwritten int
}

// BuildMatrix pivots ratings into a Matrix. When the same (user, product)
// pair appears more than once the rating with the later timestamp wins; with
// equal timestamps the later element of ratings wins.
func BuildMatrix(ratings []Rating) (*Matrix, error) {
	if len(ratings) == 0 {
		return nil, ErrEmptyDataset
	}

	latest := make(map[cellKey]Rating, len(ratings))
	overwritten := 0
	for _, r := range ratings {
		if err := validateRating(r); err != nil {
			return nil, err
		}
		k := cellKey{user: r.UserID, product: r.ProductID}
		prev, ok := latest[k]
		if !ok {
			latest[k] = r
			continue
		}
		overwritten++
		if !r.Timestamp.Before(prev.Timestamp) {
			latest[k] = r
		}
	}

	userSet := make(map[string]struct{})
	prodSet := make(map[string]struct{})
	for k := range latest {
		userSet[k.user] = struct{}{}
		prodSet[k.product] = struct{}{}
	}

	m := &Matrix{
		users:       sortedKeys(userSet),
		products:    sortedKeys(prodSet),
		overwritten: overwritten,
	}
	m.userPos = positions(m.users)
	m.prodPos = positions(m.products)

	m.cells = make([][]float64, len(m.users))
	for i := range m.cells {
		m.cells[i] = make([]float64, len(m.products))
	}
	for k, r := range latest {
		m.cells[m.userPos[k.user]][m.prodPos[k.product]] = r.Value
	}
	return m, nil
}

type cellKey struct {
	user, product string
}

func validateRating(r Rating) error {
	if r.UserID == "" || r.ProductID == "" {
		return fmt.Errorf("%w: empty user or product id", ErrInvalidRating)
	}
	// Written as a negated range check so NaN is rejected too.
	if !(r.Value >= MinRating && r.Value <= MaxRating) {
		return fmt.Errorf("%w: user %q product %q value %v outside [%v, %v]",
			ErrInvalidRating, r.UserID, r.ProductID, r.Value, MinRating, MaxRating)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func positions(ids []string) map[string]int {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	return pos
}

// Users returns the row IDs in row order.
func (m *Matrix) Users() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.users...)
}

// Products returns the column IDs in column order.
func (m *Matrix) Products() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.products...)
}

func (m *Matrix) NumUsers() int {
	if m == nil {
		return 0
	}
	return len(m.users)
}

func (m *Matrix) NumProducts() int {
	if m == nil {
		return 0
	}
	return len(m.products)
}

// HasUser reports whether userID is a row of the matrix.
func (m *Matrix) HasUser(userID string) bool {
	_, ok := m.userRow(userID)
	return ok
}

// Value returns the cell for (userID, productID), or Unrated when either ID
// is absent or the user has not rated the product.
func (m *Matrix) Value(userID, productID string) float64 {
	i, ok := m.userRow(userID)
	if !ok {
		return Unrated
	}
	j, ok := m.prodPos[productID]
	if !ok {
		return Unrated
	}
	return m.cells[i][j]
}

// Overwritten returns how many duplicate (user, product) ratings were
// replaced while building.
func (m *Matrix) Overwritten() int {
	if m == nil {
		return 0
	}
	return m.overwritten
}

// Rated returns the number of non-sentinel cells.
func (m *Matrix) Rated() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, row := range m.cells {
		for _, v := range row {
			if v != Unrated {
				n++
			}
		}
	}
	return n
}

// ColumnStats returns the number of ratings for column j and their mean,
// ignoring unrated cells.
func (m *Matrix) ColumnStats(j int) (count int, mean float64) {
	var sum float64
	for _, row := range m.cells {
		if v := row[j]; v != Unrated {
			count++
			sum += v
		}
	}
	if count == 0 {
		return 0, 0
	}
	return count, sum / float64(count)
}

func (m *Matrix) userRow(userID string) (int, bool) {
	if m == nil {
		return 0, false
	}
	i, ok := m.userPos[userID]
	return i, ok
}

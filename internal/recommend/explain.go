package recommend

import "fmt"

// HighRating is the lowest rating counted as "rated highly" in explanations.
const HighRating = 4.0

// Explain describes why productID was recommended to userID given the
// neighbors used for the prediction.
func (e *Engine) Explain(userID, productID string, neighbors []Neighbor) string {
	if !e.matrix.HasUser(userID) {
		return genericExplanation
	}
	col, ok := e.matrix.prodPos[productID]
	if !ok {
		return genericExplanation
	}
	return e.explain(col, neighbors)
}

const genericExplanation = "Recommended based on similar users' preferences"

func (e *Engine) explain(col int, neighbors []Neighbor) string {
	high := 0
	for _, n := range neighbors {
		if e.matrix.cells[n.row][col] >= HighRating {
			high++
		}
	}
	if high == 0 {
		return genericExplanation
	}
	return fmt.Sprintf("Recommended because %d similar users rated this product highly", high)
}

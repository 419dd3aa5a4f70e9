package recommend

import "errors"

var (
	// ErrEmptyDataset is returned when a matrix is built from zero ratings.
	ErrEmptyDataset = errors.New("empty dataset: no ratings to build from")

	// ErrUnknownUser is returned when a user ID is not a row of the matrix.
	// Recommend never returns it; it routes unknown users to the popularity
	// ranking instead.
	ErrUnknownUser = errors.New("unknown user")

	// ErrInvalidRating is returned for ratings outside [MinRating, MaxRating]
	// or with an empty user or product ID.
	ErrInvalidRating = errors.New("invalid rating")
)

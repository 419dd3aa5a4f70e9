// Package recommend implements user-based collaborative filtering over a
// dense rating matrix: matrix construction, cosine user similarity,
// similarity-weighted rating prediction with explanations, and a popularity
// ranking for users the matrix has never seen.
//
// Every type in this package is an immutable snapshot once built and may be
// read from multiple goroutines.
package recommend

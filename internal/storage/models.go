package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Product struct {
	ID          string
	Title       string
	Description string
	Category    string
	CreatedAt   time.Time
}

// MaxRatedAt is the latest accepted rating time, 9999-12-31T23:59:59Z in
// unix seconds. Later times have no RFC3339 form.
const MaxRatedAt int64 = 253402300799

type Rating struct {
	UserID    string
	ProductID string
	Value     float64
	RatedAt   time.Time // zero when the source had no timestamp
}

// ProductStats summarises the ratings of one product.
type ProductStats struct {
	Average float64 // rounded to two decimals; 0 when unrated
	Count   int
}

// Counts is a row count per table.
type Counts struct {
	Users    int
	Products int
	Ratings  int
}

// Job types.
const (
	JobRebuildSnapshot = "rebuild_snapshot"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

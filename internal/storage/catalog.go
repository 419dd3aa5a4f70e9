package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// bumpVersion increments the dataset version. It runs inside the writing
// transaction so readers never see new rows under an old version.
func bumpVersion(ctx context.Context, ex execer) error {
	_, err := ex.ExecContext(ctx, `UPDATE dataset_version SET version = version + 1 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("bumping dataset version: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// ratedAtValue maps a rating time to its column value: NULL for the zero
// time, unix seconds otherwise.
func ratedAtValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func ratedAtTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0).UTC()
}

// validRatedAt reports whether t is unset or within [1970, 9999].
func validRatedAt(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	sec := t.Unix()
	return sec >= 0 && sec <= MaxRatedAt
}

// withTx runs fn in a transaction and bumps the dataset version before commit.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Users ---

// AddUser registers a user. It is idempotent and reports whether the user
// was newly created.
func (s *Store) AddUser(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("user id is empty")
	}
	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`,
			id, formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("inserting user: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1
		return nil
	})
	return created, err
}

// UserExists reports whether a user is registered or has rated anything.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM users WHERE id = ?) +
		       (SELECT COUNT(*) FROM ratings WHERE user_id = ?)`, id, id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Ratings ---

// UpsertRating stores a rating, replacing any earlier rating of the same
// product by the same user. The user is registered if new.
func (s *Store) UpsertRating(ctx context.Context, r Rating) error {
	return s.UpsertRatings(ctx, []Rating{r})
}

// UpsertRatings stores a batch of ratings in one transaction.
func (s *Store) UpsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	for _, r := range ratings {
		if r.UserID == "" || r.ProductID == "" {
			return fmt.Errorf("rating with empty user or product id")
		}
		if !(r.Value >= 1 && r.Value <= 5) {
			return fmt.Errorf("rating %v for %s/%s outside [1, 5]", r.Value, r.UserID, r.ProductID)
		}
		if !validRatedAt(r.RatedAt) {
			return fmt.Errorf("rating time %d for %s/%s out of range", r.RatedAt.Unix(), r.UserID, r.ProductID)
		}
	}

	now := formatTime(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		userStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer userStmt.Close()

		ratingStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ratings (user_id, product_id, rating, rated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, product_id) DO UPDATE SET rating = excluded.rating, rated_at = excluded.rated_at`)
		if err != nil {
			return err
		}
		defer ratingStmt.Close()

		for _, r := range ratings {
			if _, err := userStmt.ExecContext(ctx, r.UserID, now); err != nil {
				return fmt.Errorf("registering user %s: %w", r.UserID, err)
			}
			if _, err := ratingStmt.ExecContext(ctx, r.UserID, r.ProductID, r.Value, ratedAtValue(r.RatedAt)); err != nil {
				return fmt.Errorf("upserting rating %s/%s: %w", r.UserID, r.ProductID, err)
			}
		}
		return nil
	})
}

// ListRatings returns every stored rating.
func (s *Store) ListRatings(ctx context.Context) ([]Rating, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, product_id, rating, rated_at FROM ratings ORDER BY user_id, product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rating
	for rows.Next() {
		var r Rating
		var ratedAt sql.NullInt64
		if err := rows.Scan(&r.UserID, &r.ProductID, &r.Value, &ratedAt); err != nil {
			return nil, err
		}
		r.RatedAt = ratedAtTime(ratedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RatedProduct is a user's rating joined with the rated product. Title and
// Category are empty when the product is not in the catalog.
type RatedProduct struct {
	Rating
	Title      string
	Category   string
	Catalogued bool
}

// RatingsForUser returns all of a user's ratings, most recent first.
func (s *Store) RatingsForUser(ctx context.Context, userID string) ([]RatedProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.user_id, r.product_id, r.rating, r.rated_at,
		       COALESCE(p.title, ''), COALESCE(p.category, ''), p.id IS NOT NULL
		FROM ratings r LEFT JOIN products p ON p.id = r.product_id
		WHERE r.user_id = ?
		ORDER BY r.rated_at DESC, r.product_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RatedProduct
	for rows.Next() {
		var rp RatedProduct
		var ratedAt sql.NullInt64
		if err := rows.Scan(&rp.UserID, &rp.ProductID, &rp.Value, &ratedAt, &rp.Title, &rp.Category, &rp.Catalogued); err != nil {
			return nil, err
		}
		rp.RatedAt = ratedAtTime(ratedAt)
		out = append(out, rp)
	}
	return out, rows.Err()
}

// --- Products ---

// UpsertProduct inserts or replaces a catalog entry.
func (s *Store) UpsertProduct(ctx context.Context, p Product) error {
	return s.UpsertProducts(ctx, []Product{p})
}

// UpsertProducts inserts or replaces catalog entries in one transaction.
// The original created_at of an existing product is kept.
func (s *Store) UpsertProducts(ctx context.Context, products []Product) error {
	if len(products) == 0 {
		return nil
	}
	for _, p := range products {
		if p.ID == "" {
			return fmt.Errorf("product with empty id (title %q)", p.Title)
		}
	}

	now := formatTime(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO products (id, title, description, category, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				category = excluded.category`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range products {
			if _, err := stmt.ExecContext(ctx, p.ID, p.Title, p.Description, p.Category, now); err != nil {
				return fmt.Errorf("upserting product %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) GetProduct(ctx context.Context, id string) (Product, error) {
	var p Product
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, category, created_at FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.Description, &p.Category, &createdAt)
	if err == sql.ErrNoRows {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Product{}, fmt.Errorf("parsing created_at for product %s: %w", id, err)
	}
	return p, nil
}

// ListProducts returns the catalog ordered by product ID.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, category, created_at FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Category, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for product %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProductStats returns the rating count and the average rounded to two
// decimals. An unrated product has zero stats.
func (s *Store) ProductStats(ctx context.Context, productID string) (ProductStats, error) {
	var avg sql.NullFloat64
	var stats ProductStats
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(rating), COUNT(*) FROM ratings WHERE product_id = ?`, productID,
	).Scan(&avg, &stats.Count)
	if err != nil {
		return ProductStats{}, err
	}
	if avg.Valid {
		stats.Average = math.Round(avg.Float64*100) / 100
	}
	return stats, nil
}

// --- Bookkeeping ---

// DatasetVersion returns a counter that changes whenever users, products or
// ratings are written.
func (s *Store) DatasetVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM dataset_version WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading dataset version: %w", err)
	}
	return v, nil
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM users),
		       (SELECT COUNT(*) FROM products),
		       (SELECT COUNT(*) FROM ratings)`).Scan(&c.Users, &c.Products, &c.Ratings)
	if err != nil {
		return Counts{}, err
	}
	return c, nil
}

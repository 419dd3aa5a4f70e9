package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/kalambet/prodrec/internal/content"
	"github.com/kalambet/prodrec/internal/recommend"
	"github.com/kalambet/prodrec/internal/service"
	"github.com/kalambet/prodrec/internal/storage"
)

// Limits are the request defaults and caps shared by the HTTP and MCP
// surfaces.
type Limits struct {
	Neighbors int
	TopN      int
	SimilarN  int
}

const maxResults = 100

func (l Limits) withDefaults() Limits {
	if l.Neighbors <= 0 {
		l.Neighbors = recommend.DefaultNeighbors
	}
	if l.TopN <= 0 {
		l.TopN = recommend.DefaultTopN
	}
	if l.SimilarN <= 0 {
		l.SimilarN = content.DefaultSimilarN
	}
	return l
}

// SnapshotSource hands out the current recommendation snapshot.
type SnapshotSource interface {
	Current(ctx context.Context) (*service.Snapshot, error)
	Rebuild(ctx context.Context) (*service.Snapshot, error)
	Peek() *service.Snapshot
}

type recommendationsResult struct {
	UserID          string                     `json:"user_id"`
	Recommendations []recommend.Recommendation `json:"recommendations"`
	ColdStart       bool                       `json:"cold_start"`
	SnapshotVersion int64                      `json:"snapshot_version"`
}

func recommendFor(ctx context.Context, snaps SnapshotSource, userID string, neighbors, limit int) (recommendationsResult, error) {
	snap, err := snaps.Current(ctx)
	if err != nil {
		return recommendationsResult{}, fmt.Errorf("loading snapshot: %w", err)
	}
	recs, err := snap.Recommend(userID, neighbors, limit)
	if err != nil {
		return recommendationsResult{}, err
	}
	if recs == nil {
		recs = []recommend.Recommendation{}
	}
	return recommendationsResult{
		UserID:          userID,
		Recommendations: recs,
		ColdStart:       !snap.Engine.KnowsUser(userID),
		SnapshotVersion: snap.Version,
	}, nil
}

type similarProduct struct {
	ProductID string  `json:"product_id"`
	Score     float64 `json:"score"`
	Title     string  `json:"title"`
}

type similarResult struct {
	ProductID string           `json:"product_id"`
	Similar   []similarProduct `json:"similar"`
}

func similarTo(ctx context.Context, snaps SnapshotSource, productID string, limit int) (similarResult, error) {
	snap, err := snaps.Current(ctx)
	if err != nil {
		return similarResult{}, fmt.Errorf("loading snapshot: %w", err)
	}
	scored, err := snap.Similar(productID, limit)
	if err != nil {
		return similarResult{}, err
	}
	out := similarResult{ProductID: productID, Similar: make([]similarProduct, len(scored))}
	for i, s := range scored {
		out.Similar[i] = similarProduct{
			ProductID: s.ProductID,
			Score:     s.Score,
			Title:     snap.Products[s.ProductID].Title,
		}
	}
	return out, nil
}

type historyEntry struct {
	ProductID    string  `json:"product_id"`
	Rating       float64 `json:"rating"`
	ProductTitle string  `json:"product_title"`
	Timestamp    string  `json:"timestamp,omitempty"`
}

type historyResult struct {
	UserID  string         `json:"user_id"`
	History []historyEntry `json:"history"`
}

// userHistory lists a user's ratings of catalogued products, most recent
// first. It returns storage.ErrNotFound for a user the store has never seen.
func userHistory(ctx context.Context, store *storage.Store, userID string) (historyResult, error) {
	rated, err := store.RatingsForUser(ctx, userID)
	if err != nil {
		return historyResult{}, err
	}
	if len(rated) == 0 {
		ok, err := store.UserExists(ctx, userID)
		if err != nil {
			return historyResult{}, err
		}
		if !ok {
			return historyResult{}, storage.ErrNotFound
		}
	}

	out := historyResult{UserID: userID, History: []historyEntry{}}
	for _, rp := range rated {
		if !rp.Catalogued {
			continue
		}
		e := historyEntry{ProductID: rp.ProductID, Rating: rp.Value, ProductTitle: rp.Title}
		if !rp.RatedAt.IsZero() {
			e.Timestamp = rp.RatedAt.Format(time.RFC3339)
		}
		out.History = append(out.History, e)
	}
	return out, nil
}

type categoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type preferencesResult struct {
	UserID              string          `json:"user_id"`
	TotalRatings        int             `json:"total_ratings"`
	AverageRating       float64         `json:"average_rating"`
	RatingDistribution  map[string]int  `json:"rating_distribution"`
	PreferredCategories []categoryCount `json:"preferred_categories"`
}

// userPreferences summarises every rating a user made. Categories come from
// catalogued products only. A user with no ratings is storage.ErrNotFound.
func userPreferences(ctx context.Context, store *storage.Store, userID string) (preferencesResult, error) {
	rated, err := store.RatingsForUser(ctx, userID)
	if err != nil {
		return preferencesResult{}, err
	}
	if len(rated) == 0 {
		return preferencesResult{}, storage.ErrNotFound
	}

	out := preferencesResult{
		UserID:              userID,
		TotalRatings:        len(rated),
		RatingDistribution:  map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0},
		PreferredCategories: []categoryCount{},
	}
	var sum float64
	categories := make(map[string]int)
	for _, rp := range rated {
		sum += rp.Value
		out.RatingDistribution[strconv.Itoa(int(rp.Value))]++
		if rp.Catalogued && rp.Category != "" {
			categories[rp.Category]++
		}
	}
	out.AverageRating = math.Round(sum/float64(len(rated))*100) / 100

	for c, n := range categories {
		out.PreferredCategories = append(out.PreferredCategories, categoryCount{Category: c, Count: n})
	}
	sort.Slice(out.PreferredCategories, func(i, j int) bool {
		a, b := out.PreferredCategories[i], out.PreferredCategories[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Category < b.Category
	})
	return out, nil
}

// errUnknownProduct marks a rating for a product outside the catalog.
var errUnknownProduct = errors.New("unknown product")

// recordRating stores a rating for a catalogued product and queues a
// snapshot rebuild. It reports whether a new rebuild job was queued.
func recordRating(ctx context.Context, store *storage.Store, r storage.Rating) (bool, error) {
	if _, err := store.GetProduct(ctx, r.ProductID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", errUnknownProduct, r.ProductID)
		}
		return false, err
	}
	if r.RatedAt.IsZero() {
		r.RatedAt = time.Now().UTC()
	}
	if err := store.UpsertRating(ctx, r); err != nil {
		return false, err
	}
	queued, err := store.EnqueueJobUnlessPending(storage.JobRebuildSnapshot)
	if err != nil {
		return false, fmt.Errorf("rating saved but rebuild not queued: %w", err)
	}
	return queued, nil
}

type statsResult struct {
	Users           int   `json:"users"`
	Products        int   `json:"products"`
	Ratings         int   `json:"ratings"`
	DatasetVersion  int64 `json:"dataset_version"`
	SnapshotVersion int64 `json:"snapshot_version"`
}

func catalogStats(ctx context.Context, store *storage.Store, snaps SnapshotSource) (statsResult, error) {
	c, err := store.Counts(ctx)
	if err != nil {
		return statsResult{}, err
	}
	v, err := store.DatasetVersion(ctx)
	if err != nil {
		return statsResult{}, err
	}
	out := statsResult{Users: c.Users, Products: c.Products, Ratings: c.Ratings, DatasetVersion: v, SnapshotVersion: -1}
	if snap := snaps.Peek(); snap != nil {
		out.SnapshotVersion = snap.Version
	}
	return out, nil
}

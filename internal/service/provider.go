// Package service turns the stored ratings and catalog into immutable
// recommendation snapshots and keeps the current snapshot in step with the
// store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/prodrec/internal/content"
	"github.com/kalambet/prodrec/internal/recommend"
	"github.com/kalambet/prodrec/internal/storage"
)

// Store is the read side of the rating store a Provider builds from.
type Store interface {
	DatasetVersion(ctx context.Context) (int64, error)
	ListRatings(ctx context.Context) ([]storage.Rating, error)
	ListProducts(ctx context.Context) ([]storage.Product, error)
}

// Options tunes snapshot construction. Zero values use the package defaults
// of recommend and content.
type Options struct {
	MinPopularRatings int
	MaxFeatures       int
}

// Snapshot is one consistent, read-only view of the data. Everything in it
// is built from the same dataset version.
type Snapshot struct {
	Version  int64
	Matrix   *recommend.Matrix // nil when there are no ratings
	Users    *recommend.UserIndex
	Engine   *recommend.Engine
	Content  *content.Index
	Products map[string]content.Product
	BuiltAt  time.Time
}

// Recommend serves collaborative recommendations for known users and the
// popularity ranking for everyone else.
func (s *Snapshot) Recommend(userID string, kNeighbors, topN int) ([]recommend.Recommendation, error) {
	recs, err := s.Engine.Recommend(userID, kNeighbors, topN)
	if err != nil {
		return nil, err
	}
	if s.Engine.KnowsUser(userID) {
		recommendationsTotal.WithLabelValues(pathCollaborative).Inc()
	} else {
		recommendationsTotal.WithLabelValues(pathColdStart).Inc()
	}
	return recs, nil
}

// Similar returns the products whose text is closest to productID.
func (s *Snapshot) Similar(productID string, n int) ([]content.Scored, error) {
	out, err := s.Content.Similar(productID, n)
	if err != nil {
		return nil, err
	}
	recommendationsTotal.WithLabelValues(pathSimilar).Inc()
	return out, nil
}

// Build reads the whole store and builds a snapshot. The user similarity
// index and the content index are built concurrently.
func Build(ctx context.Context, store Store, opts Options) (*Snapshot, error) {
	version, err := store.DatasetVersion(ctx)
	if err != nil {
		return nil, err
	}

	var (
		stored   []storage.Rating
		products []storage.Product
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stored, err = store.ListRatings(gctx)
		if err != nil {
			return fmt.Errorf("listing ratings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		products, err = store.ListProducts(gctx)
		if err != nil {
			return fmt.Errorf("listing products: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Version:  version,
		Products: make(map[string]content.Product, len(products)),
	}

	ratings := make([]recommend.Rating, len(stored))
	for i, r := range stored {
		ratings[i] = recommend.Rating{
			UserID:    r.UserID,
			ProductID: r.ProductID,
			Value:     r.Value,
			Timestamp: r.RatedAt,
		}
	}
	snap.Matrix, err = recommend.BuildMatrix(ratings)
	if err != nil && !errors.Is(err, recommend.ErrEmptyDataset) {
		return nil, fmt.Errorf("building rating matrix: %w", err)
	}

	catalog := make([]content.Product, len(products))
	for i, p := range products {
		catalog[i] = content.Product{ID: p.ID, Title: p.Title, Description: p.Description, Category: p.Category}
		snap.Products[p.ID] = catalog[i]
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		snap.Users = recommend.BuildUserIndex(snap.Matrix)
		return gctx.Err()
	})
	g.Go(func() error {
		idx, err := content.Build(catalog, content.Options{MaxFeatures: opts.MaxFeatures})
		if err != nil {
			return fmt.Errorf("building content index: %w", err)
		}
		snap.Content = idx
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.Engine = recommend.NewEngine(snap.Matrix, snap.Users, opts.MinPopularRatings)
	snap.BuiltAt = time.Now().UTC()
	return snap, nil
}

// Provider hands out the current snapshot, rebuilding it when the store's
// dataset version moves. Concurrent rebuilds collapse into one.
type Provider struct {
	store  Store
	opts   Options
	group  singleflight.Group
	logger *slog.Logger

	mu      sync.RWMutex
	current *Snapshot
}

func NewProvider(store Store, opts Options) *Provider {
	return &Provider{
		store:  store,
		opts:   opts,
		logger: slog.Default(),
	}
}

// Current returns the cached snapshot if it matches the store's dataset
// version, otherwise it rebuilds.
func (p *Provider) Current(ctx context.Context) (*Snapshot, error) {
	version, err := p.store.DatasetVersion(ctx)
	if err != nil {
		return nil, err
	}
	if snap := p.Peek(); snap != nil && snap.Version == version {
		return snap, nil
	}
	return p.Rebuild(ctx)
}

// Peek returns the cached snapshot without touching the store. It is nil
// before the first build.
func (p *Provider) Peek() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Invalidate drops the cached snapshot so the next Current rebuilds.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
}

// Rebuild builds a fresh snapshot unconditionally and caches it. The build
// is shared with concurrent callers, so it ignores cancellation of ctx.
func (p *Provider) Rebuild(ctx context.Context) (*Snapshot, error) {
	buildCtx := context.WithoutCancel(ctx)
	v, err, _ := p.group.Do("snapshot", func() (any, error) {
		start := time.Now()
		snap, err := Build(buildCtx, p.store, p.opts)
		snapshotBuildDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			snapshotBuildsTotal.WithLabelValues("error").Inc()
			p.logger.Error("snapshot build failed", "error", err)
			return nil, err
		}
		snapshotBuildsTotal.WithLabelValues("success").Inc()
		snapshotUsers.Set(float64(snap.Matrix.NumUsers()))
		snapshotProducts.Set(float64(snap.Content.Len()))

		p.mu.Lock()
		if p.current == nil || p.current.Version <= snap.Version {
			p.current = snap
		}
		p.mu.Unlock()

		p.logger.Info("snapshot built",
			"version", snap.Version,
			"users", snap.Matrix.NumUsers(),
			"products", snap.Content.Len(),
			"duration", time.Since(start),
		)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

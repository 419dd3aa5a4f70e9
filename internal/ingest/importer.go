package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/kalambet/prodrec/internal/storage"
)

// DefaultBatchSize is the number of rows written per transaction.
const DefaultBatchSize = 1000

// Store is the write side of the store the Importer fills.
type Store interface {
	UpsertRatings(ctx context.Context, ratings []storage.Rating) error
	UpsertProducts(ctx context.Context, products []storage.Product) error
	ListProducts(ctx context.Context) ([]storage.Product, error)
	EnqueueJobUnlessPending(jobType string) (bool, error)
}

// Importer bulk-loads files into the store and queues a snapshot rebuild
// after each successful load.
type Importer struct {
	store     Store
	batchSize int
	logger    *slog.Logger
}

// NewImporter creates an Importer. batchSize <= 0 means DefaultBatchSize.
func NewImporter(store Store, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{store: store, batchSize: batchSize, logger: slog.Default()}
}

// RatingsResult summarises a ratings import.
type RatingsResult struct {
	Read         ReadStats
	Imported     int // ratings written after filtering
	Users        int
	Products     int
	Placeholders int // catalog entries created for unknown products
}

// ImportRatings reads a ratings CSV, filters it, writes the surviving
// ratings and creates placeholder catalog entries for rated products that
// are not in the catalog yet.
func (im *Importer) ImportRatings(ctx context.Context, r io.Reader, opts FilterOptions) (RatingsResult, error) {
	raw, stats, err := ReadRatingsCSV(r)
	if err != nil {
		return RatingsResult{}, err
	}
	res := RatingsResult{Read: stats}

	kept := Filter(raw, opts)
	im.logger.Info("ratings filtered", "read", stats.Kept, "skipped", stats.Skipped, "duplicates", stats.Duplicates, "kept", len(kept))
	if len(kept) == 0 {
		return res, nil
	}

	users := make(map[string]struct{})
	products := make(map[string]struct{})
	for _, rt := range kept {
		users[rt.UserID] = struct{}{}
		products[rt.ProductID] = struct{}{}
	}
	res.Users = len(users)
	res.Products = len(products)

	existing, err := im.store.ListProducts(ctx)
	if err != nil {
		return res, fmt.Errorf("listing catalog: %w", err)
	}
	for _, p := range existing {
		delete(products, p.ID)
	}
	missing := make([]string, 0, len(products))
	for id := range products {
		missing = append(missing, id)
	}
	sort.Strings(missing)
	if err := im.writeProducts(ctx, PlaceholderProducts(missing)); err != nil {
		return res, err
	}
	res.Placeholders = len(missing)

	for start := 0; start < len(kept); start += im.batchSize {
		end := min(start+im.batchSize, len(kept))
		if err := im.store.UpsertRatings(ctx, kept[start:end]); err != nil {
			return res, fmt.Errorf("writing ratings %d-%d: %w", start, end, err)
		}
		res.Imported = end
	}

	im.queueRebuild()
	return res, nil
}

// ImportProducts reads a catalog CSV and upserts every product.
func (im *Importer) ImportProducts(ctx context.Context, r io.Reader) (ReadStats, error) {
	products, stats, err := ReadProductsCSV(r)
	if err != nil {
		return stats, err
	}
	if err := im.writeProducts(ctx, products); err != nil {
		return stats, err
	}
	if len(products) > 0 {
		im.queueRebuild()
	}
	return stats, nil
}

// ImportPDF upserts p with its description taken from the PDF at path.
func (im *Importer) ImportPDF(ctx context.Context, path string, p storage.Product) (storage.Product, error) {
	if p.ID == "" {
		return storage.Product{}, fmt.Errorf("product id is required")
	}
	text, err := ExtractPDFText(path)
	if err != nil {
		return storage.Product{}, err
	}
	p.Description = text
	if p.Title == "" {
		p.Title = "Product " + p.ID
	}
	if err := im.store.UpsertProducts(ctx, []storage.Product{p}); err != nil {
		return storage.Product{}, fmt.Errorf("writing product %s: %w", p.ID, err)
	}
	im.queueRebuild()
	return p, nil
}

func (im *Importer) writeProducts(ctx context.Context, products []storage.Product) error {
	for start := 0; start < len(products); start += im.batchSize {
		end := min(start+im.batchSize, len(products))
		if err := im.store.UpsertProducts(ctx, products[start:end]); err != nil {
			return fmt.Errorf("writing products %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// queueRebuild asks the server's worker to rebuild the snapshot. A running
// server also notices the new dataset version on its own, so failure here
// is only logged.
func (im *Importer) queueRebuild() {
	if _, err := im.store.EnqueueJobUnlessPending(storage.JobRebuildSnapshot); err != nil {
		im.logger.Warn("could not queue snapshot rebuild", "error", err)
	}
}

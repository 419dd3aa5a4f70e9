// Package ingest loads ratings and catalog data from files into the store.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/prodrec/internal/storage"
)

// ReadStats counts what a reader kept and dropped.
type ReadStats struct {
	Rows       int // data rows seen, header excluded
	Kept       int
	Skipped    int
	Duplicates int // rows folded into an earlier row for the same key
}

// ReadRatingsCSV parses rows of userId,productId,rating[,timestamp]. The
// timestamp is in unix seconds. A first row whose rating column is not a
// number is taken as a header. Malformed rows, ratings outside [1, 5] and
// timestamps outside [0, storage.MaxRatedAt] are skipped and counted.
//
// A repeated (user, product) pair keeps one rating: the one with the later
// timestamp, or the later row when timestamps are equal. The store applies
// the same rule on write.
func ReadRatingsCSV(r io.Reader) ([]storage.Rating, ReadStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		out   []storage.Rating
		stats ReadStats
		first = true
		index = make(map[[2]string]int)
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Rows++
				stats.Skipped++
				continue
			}
			return nil, stats, fmt.Errorf("reading ratings csv: %w", err)
		}

		if first {
			first = false
			if len(rec) >= 3 && !isNumber(rec[2]) {
				continue
			}
		}
		stats.Rows++

		rating, ok := parseRatingRecord(rec)
		if !ok {
			stats.Skipped++
			continue
		}
		key := [2]string{rating.UserID, rating.ProductID}
		if i, ok := index[key]; ok {
			stats.Duplicates++
			if !rating.RatedAt.Before(out[i].RatedAt) {
				out[i] = rating
			}
			continue
		}
		index[key] = len(out)
		out = append(out, rating)
	}
	stats.Kept = len(out)
	return out, stats, nil
}

func parseRatingRecord(rec []string) (storage.Rating, bool) {
	if len(rec) < 3 {
		return storage.Rating{}, false
	}
	user := strings.TrimSpace(rec[0])
	product := strings.TrimSpace(rec[1])
	if user == "" || product == "" {
		return storage.Rating{}, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil || !(v >= 1 && v <= 5) {
		return storage.Rating{}, false
	}

	r := storage.Rating{UserID: user, ProductID: product, Value: v}
	if len(rec) > 3 && strings.TrimSpace(rec[3]) != "" {
		ts, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
		if err != nil || !(ts >= 0 && ts <= float64(storage.MaxRatedAt)) {
			return storage.Rating{}, false
		}
		r.RatedAt = time.Unix(int64(ts), 0).UTC()
	}
	return r, true
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

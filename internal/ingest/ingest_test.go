package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/prodrec/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReadRatingsCSV(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantKept  int
		wantSkip  int
		wantFirst storage.Rating
	}{
		{
			name:      "headerless with timestamps",
			input:     "A1,P1,5.0,1400000000\nA2,P1,3,1400000060\n",
			wantKept:  2,
			wantFirst: storage.Rating{UserID: "A1", ProductID: "P1", Value: 5, RatedAt: time.Unix(1400000000, 0).UTC()},
		},
		{
			name:      "header detected",
			input:     "userId,productId,rating,timestamp\nA1,P1,4,\n",
			wantKept:  1,
			wantFirst: storage.Rating{UserID: "A1", ProductID: "P1", Value: 4},
		},
		{
			name:      "bad rows skipped",
			input:     "A1,P1,4\nA2,P2,0\nA3,P3,six\nA4,,3\nA5,P5\nA6,P6,2,yesterday\n",
			wantKept:  1,
			wantSkip:  5,
			wantFirst: storage.Rating{UserID: "A1", ProductID: "P1", Value: 4},
		},
		{
			name:      "timestamps outside the representable range",
			input:     "A1,P1,4,253402300799\nA2,P2,3,253402300800\nA3,P3,3,1e20\nA4,P4,3,NaN\nA5,P5,3,-5\nA6,P6,3,Inf\n",
			wantKept:  1,
			wantSkip:  5,
			wantFirst: storage.Rating{UserID: "A1", ProductID: "P1", Value: 4, RatedAt: time.Unix(storage.MaxRatedAt, 0).UTC()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stats, err := ReadRatingsCSV(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadRatingsCSV: %v", err)
			}
			if stats.Kept != tt.wantKept || stats.Skipped != tt.wantSkip || len(got) != tt.wantKept {
				t.Fatalf("stats = %+v, len = %d; want kept %d skipped %d", stats, len(got), tt.wantKept, tt.wantSkip)
			}
			if !reflect.DeepEqual(got[0], tt.wantFirst) {
				t.Errorf("first rating = %+v, want %+v", got[0], tt.wantFirst)
			}
		})
	}
}

func TestReadRatingsCSV_Duplicates(t *testing.T) {
	input := "u1,p1,2,200\n" +
		"u1,p2,3,100\n" +
		"u1,p1,5,100\n" + // older than the first row, dropped
		"u1,p2,4,100\n" + // same time, later row wins
		"u2,p1,1\n"

	got, stats, err := ReadRatingsCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadRatingsCSV: %v", err)
	}
	want := ReadStats{Rows: 5, Kept: 3, Duplicates: 2}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	values := map[string]float64{}
	for _, r := range got {
		values[r.UserID+"/"+r.ProductID] = r.Value
	}
	if values["u1/p1"] != 2 || values["u1/p2"] != 4 || values["u2/p1"] != 1 {
		t.Errorf("values = %v", values)
	}
}

func ratingsFor(pairs ...string) []storage.Rating {
	var out []storage.Rating
	for _, p := range pairs {
		u, prod, _ := strings.Cut(p, ":")
		out = append(out, storage.Rating{UserID: u, ProductID: prod, Value: 3})
	}
	return out
}

func TestFilter_MinimumCounts(t *testing.T) {
	in := ratingsFor(
		"u1:a", "u1:b", "u1:c",
		"u2:a", "u2:b",
		"u3:a", // u3 has one rating
	)
	got := Filter(in, FilterOptions{MinPerUser: 2, MinPerProduct: 2})

	// u3 drops first; then c has a single rating among u1, u2 and drops.
	want := ratingsFor("u1:a", "u1:b", "u2:a", "u2:b")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter = %+v, want %+v", got, want)
	}
}

func TestFilter_Caps(t *testing.T) {
	in := ratingsFor(
		"u1:a", "u1:b", "u1:c",
		"u2:a", "u2:b",
		"u3:a", "u3:c",
	)
	got := Filter(in, FilterOptions{MaxUsers: 2, MaxProducts: 1})

	// u1 (3) and u2/u3 (2, tie to u2); product a (3) is the most rated.
	want := ratingsFor("u1:a", "u2:a")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter = %+v, want %+v", got, want)
	}
}

func TestFilter_ZeroOptionsKeepsAll(t *testing.T) {
	in := ratingsFor("u1:a", "u2:b")
	if got := Filter(in, FilterOptions{}); len(got) != 2 {
		t.Errorf("Filter with zero options kept %d, want 2", len(got))
	}
}

func TestPlaceholderProducts(t *testing.T) {
	got := PlaceholderProducts([]string{"B00X"})
	want := storage.Product{
		ID:          "B00X",
		Title:       "Product B00X",
		Description: "Description for product B00X",
		Category:    "Electronics",
	}
	if len(got) != 1 || got[0] != want {
		t.Errorf("PlaceholderProducts = %+v, want %+v", got, want)
	}
}

func TestReadProductsCSV(t *testing.T) {
	input := "category,productId,title,description\n" +
		"Audio,p1,Headphones,\"<p>Over-ear <b>wireless</b> headphones</p><script>track()</script>\"\n" +
		"Home,,Nameless,skip me\n" +
		"Home,p2,Lamp,Warm &amp; bright\n"

	got, stats, err := ReadProductsCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadProductsCSV: %v", err)
	}
	if stats.Rows != 3 || stats.Kept != 2 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want rows 3 kept 2 skipped 1", stats)
	}
	if got[0].ID != "p1" || got[0].Category != "Audio" || got[0].Title != "Headphones" {
		t.Errorf("first product = %+v", got[0])
	}
	if got[0].Description != "Over-ear wireless headphones" {
		t.Errorf("flattened description = %q", got[0].Description)
	}
	// No markup, so entities stay as written.
	if got[1].Description != "Warm &amp; bright" {
		t.Errorf("plain description = %q", got[1].Description)
	}
}

func TestReadProductsCSV_MissingIDColumn(t *testing.T) {
	if _, _, err := ReadProductsCSV(strings.NewReader("title,description\nx,y\n")); err == nil {
		t.Error("ReadProductsCSV without productId column succeeded, want error")
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<ul><li>One</li><li>Two</li></ul>", "One Two"},
		{"Fish &amp; chips<br>daily", "Fish & chips daily"},
		{"<style>p{}</style>  plain   text ", "plain text"},
	}
	for _, tt := range tests {
		if got := HTMLToText(tt.in); got != tt.want {
			t.Errorf("HTMLToText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractPDFText_Errors(t *testing.T) {
	if _, err := ExtractPDFText(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("ExtractPDFText on missing file succeeded, want error")
	}

	junk := filepath.Join(t.TempDir(), "junk.pdf")
	if err := os.WriteFile(junk, []byte("not a pdf"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ExtractPDFText(junk); err == nil {
		t.Error("ExtractPDFText on junk succeeded, want error")
	}
}

func TestImporter_ImportRatings(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertProduct(ctx, storage.Product{ID: "a", Title: "Real A", Category: "Audio"}); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}

	var csv strings.Builder
	for u := 1; u <= 3; u++ {
		for _, p := range []string{"a", "b"} {
			fmt.Fprintf(&csv, "u%d,%s,%d,1400000000\n", u, p, u+1)
		}
	}
	csv.WriteString("loner,c,5,1400000000\n")

	im := NewImporter(store, 2)
	res, err := im.ImportRatings(ctx, strings.NewReader(csv.String()), FilterOptions{MinPerUser: 2, MinPerProduct: 2})
	if err != nil {
		t.Fatalf("ImportRatings: %v", err)
	}
	if res.Imported != 6 || res.Users != 3 || res.Products != 2 || res.Placeholders != 1 {
		t.Errorf("result = %+v, want 6 imported, 3 users, 2 products, 1 placeholder", res)
	}

	a, err := store.GetProduct(ctx, "a")
	if err != nil || a.Title != "Real A" {
		t.Errorf("existing product overwritten: %+v, %v", a, err)
	}
	b, err := store.GetProduct(ctx, "b")
	if err != nil || b.Title != "Product b" {
		t.Errorf("placeholder = %+v, %v", b, err)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Ratings != 6 || counts.Users != 3 {
		t.Errorf("Counts = %+v", counts)
	}

	job, err := store.ClaimNextJob([]string{storage.JobRebuildSnapshot})
	if err != nil || job == nil {
		t.Fatalf("rebuild job not queued: %v, %v", job, err)
	}
}

func TestImporter_ImportProducts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	im := NewImporter(store, 0)
	stats, err := im.ImportProducts(ctx, strings.NewReader("productId,title,description,category\np1,Lamp,Bright,Home\np2,Desk,Oak,Home\n"))
	if err != nil {
		t.Fatalf("ImportProducts: %v", err)
	}
	if stats.Kept != 2 {
		t.Errorf("kept = %d, want 2", stats.Kept)
	}
	list, err := store.ListProducts(ctx)
	if err != nil || len(list) != 2 {
		t.Errorf("ListProducts = %+v, %v", list, err)
	}
}

func TestImporter_ImportPDFRequiresID(t *testing.T) {
	im := NewImporter(openTestStore(t), 0)
	if _, err := im.ImportPDF(context.Background(), "sheet.pdf", storage.Product{}); err == nil {
		t.Error("ImportPDF without id succeeded, want error")
	}
}

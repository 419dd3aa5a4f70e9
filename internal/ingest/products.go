package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/kalambet/prodrec/internal/storage"
)

// ReadProductsCSV parses a catalog with the header
// productId,title,description,category. Column order follows the header;
// title, description and category may be absent. Descriptions containing
// HTML markup are flattened to plain text.
func ReadProductsCSV(r io.Reader) ([]storage.Product, ReadStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ReadStats{}, nil
	}
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("reading products header: %w", err)
	}
	cols := make(map[string]int)
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["productid"]; !ok {
		return nil, ReadStats{}, fmt.Errorf("products csv: missing productId column in header %q", header)
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		out   []storage.Product
		stats ReadStats
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.Rows++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Skipped++
				continue
			}
			return nil, stats, fmt.Errorf("reading products csv: %w", err)
		}

		p := storage.Product{
			ID:          field(rec, "productid"),
			Title:       field(rec, "title"),
			Description: field(rec, "description"),
			Category:    field(rec, "category"),
		}
		if p.ID == "" {
			stats.Skipped++
			continue
		}
		if strings.ContainsRune(p.Description, '<') {
			p.Description = HTMLToText(p.Description)
		}
		out = append(out, p)
		stats.Kept++
	}
	return out, stats, nil
}

// HTMLToText returns the visible text of an HTML fragment with runs of
// whitespace collapsed. Script and style contents are dropped.
func HTMLToText(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "li", "div", "tr":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "li", "div", "td", "tr":
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// Package content finds similar products from their text. Each product's
// title and description are vectorised with TF-IDF over unigrams and
// bigrams, and products are compared by cosine similarity.
package content

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownProduct is returned when a product ID is not in the index.
var ErrUnknownProduct = errors.New("unknown product")

// DefaultSimilarN is the result count used when callers pass n <= 0.
const DefaultSimilarN = 5

// Product is a catalog entry.
type Product struct {
	ID          string
	Title       string
	Description string
	Category    string
}

// Text returns the text the product is vectorised from.
func (p Product) Text() string {
	return p.Title + " " + p.Description
}

// Scored is a product with its similarity to a query product.
type Scored struct {
	ProductID string  `json:"product_id"`
	Score     float64 `json:"score"`
}

// Options configures Build.
type Options struct {
	MaxFeatures int // vocabulary cap; <= 0 means DefaultMaxFeatures
}

// Index holds TF-IDF vectors for a product catalog. It is immutable and
// safe for concurrent reads.
type Index struct {
	ids     []string
	pos     map[string]int
	vectors []vector
	vec     *vectorizer
}

// Build vectorises products in corpus order. A repeated product ID replaces
// the earlier entry in place.
func Build(products []Product, opts Options) (*Index, error) {
	analyzer, err := newTermAnalyzer()
	if err != nil {
		return nil, err
	}

	idx := &Index{pos: make(map[string]int, len(products))}
	var texts []string
	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("product with empty id (title %q)", p.Title)
		}
		if i, ok := idx.pos[p.ID]; ok {
			texts[i] = p.Text()
			continue
		}
		idx.pos[p.ID] = len(idx.ids)
		idx.ids = append(idx.ids, p.ID)
		texts = append(texts, p.Text())
	}

	docs := make([][]string, len(texts))
	for i, text := range texts {
		docs[i] = analyzer.Terms(text)
	}

	idx.vec = fitVectorizer(docs, opts.MaxFeatures)
	idx.vectors = make([]vector, len(docs))
	for i, doc := range docs {
		idx.vectors[i] = idx.vec.transform(doc)
	}
	return idx, nil
}

// Len returns the number of indexed products.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.ids)
}

// Has reports whether productID is indexed.
func (x *Index) Has(productID string) bool {
	if x == nil {
		return false
	}
	_, ok := x.pos[productID]
	return ok
}

// Vocabulary returns the vocabulary terms in column order.
func (x *Index) Vocabulary() []string {
	if x == nil {
		return nil
	}
	return append([]string(nil), x.vec.terms...)
}

// Similarity returns the cosine similarity of two indexed products.
func (x *Index) Similarity(a, b string) (float64, error) {
	i, ok := x.lookup(a)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownProduct, a)
	}
	j, ok := x.lookup(b)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownProduct, b)
	}
	return dot(x.vectors[i], x.vectors[j]), nil
}

// Similar returns the n products most similar to productID, excluding the
// product itself, highest score first. Ties keep corpus order.
func (x *Index) Similar(productID string, n int) ([]Scored, error) {
	i, ok := x.lookup(productID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, productID)
	}
	if n <= 0 {
		n = DefaultSimilarN
	}

	target := x.vectors[i]
	out := make([]Scored, 0, len(x.ids)-1)
	for j, v := range x.vectors {
		if j == i {
			continue
		}
		out = append(out, Scored{ProductID: x.ids[j], Score: dot(target, v)})
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (x *Index) lookup(id string) (int, bool) {
	if x == nil {
		return 0, false
	}
	i, ok := x.pos[id]
	return i, ok
}

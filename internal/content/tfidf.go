package content

import (
	"math"
	"sort"
)

// DefaultMaxFeatures caps the vocabulary size.
const DefaultMaxFeatures = 5000

// vector is a sparse L2-normalised TF-IDF vector with ascending indices.
type vector struct {
	idx []int
	val []float64
}

// vectorizer maps terms to vocabulary columns and IDF weights.
type vectorizer struct {
	vocab map[string]int
	terms []string // column -> term, alphabetical
	idf   []float64
}

// fitVectorizer keeps the maxFeatures terms with the highest total count
// across docs (ties alphabetical) and computes smoothed IDF weights
// ln((1+n)/(1+df)) + 1 for them.
func fitVectorizer(docs [][]string, maxFeatures int) *vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}

	totals := make(map[string]int)
	for _, doc := range docs {
		for _, term := range doc {
			totals[term]++
		}
	}

	kept := make([]string, 0, len(totals))
	for term := range totals {
		kept = append(kept, term)
	}
	sort.Slice(kept, func(i, j int) bool {
		if totals[kept[i]] != totals[kept[j]] {
			return totals[kept[i]] > totals[kept[j]]
		}
		return kept[i] < kept[j]
	})
	if len(kept) > maxFeatures {
		kept = kept[:maxFeatures]
	}
	sort.Strings(kept)

	v := &vectorizer{
		vocab: make(map[string]int, len(kept)),
		terms: kept,
		idf:   make([]float64, len(kept)),
	}
	for i, term := range kept {
		v.vocab[term] = i
	}

	df := make([]int, len(kept))
	for _, doc := range docs {
		seen := make(map[int]bool)
		for _, term := range doc {
			col, ok := v.vocab[term]
			if !ok || seen[col] {
				continue
			}
			seen[col] = true
			df[col]++
		}
	}
	n := float64(len(docs))
	for i := range v.idf {
		v.idf[i] = math.Log((1+n)/(1+float64(df[i]))) + 1
	}
	return v
}

// transform converts a term list into a normalised TF-IDF vector. Terms
// outside the vocabulary are ignored.
func (v *vectorizer) transform(terms []string) vector {
	counts := make(map[int]int)
	for _, term := range terms {
		if col, ok := v.vocab[term]; ok {
			counts[col]++
		}
	}

	out := vector{idx: make([]int, 0, len(counts)), val: make([]float64, 0, len(counts))}
	for col := range counts {
		out.idx = append(out.idx, col)
	}
	sort.Ints(out.idx)

	var sumSq float64
	for _, col := range out.idx {
		w := float64(counts[col]) * v.idf[col]
		out.val = append(out.val, w)
		sumSq += w * w
	}
	if sumSq > 0 {
		n := math.Sqrt(sumSq)
		for i := range out.val {
			out.val[i] /= n
		}
	}
	return out
}

// dot returns the inner product of two normalised vectors, which is their
// cosine similarity. Empty vectors score 0.
func dot(a, b vector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.idx) && j < len(b.idx) {
		switch {
		case a.idx[i] == b.idx[j]:
			sum += a.val[i] * b.val[j]
			i++
			j++
		case a.idx[i] < b.idx[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

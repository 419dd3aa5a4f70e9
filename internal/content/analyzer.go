package content

import (
	"fmt"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/registry"
)

// minTokenRunes drops single-character tokens such as stray letters and
// digits.
const minTokenRunes = 2

// termAnalyzer turns product text into unigram and bigram terms. It uses
// bleve's standard analyzer: Unicode word segmentation, lowercasing and
// English stop-word removal.
type termAnalyzer struct {
	analyzer analysis.Analyzer
}

func newTermAnalyzer() (*termAnalyzer, error) {
	a, err := registry.NewCache().AnalyzerNamed(standard.Name)
	if err != nil {
		return nil, fmt.Errorf("loading %s analyzer: %w", standard.Name, err)
	}
	return &termAnalyzer{analyzer: a}, nil
}

// Terms returns the unigrams of text followed by the bigrams formed from
// adjacent unigrams. Stop words are removed before bigrams are formed.
func (t *termAnalyzer) Terms(text string) []string {
	stream := t.analyzer.Analyze([]byte(text))

	words := make([]string, 0, len(stream))
	for _, tok := range stream {
		if utf8.RuneCount(tok.Term) < minTokenRunes {
			continue
		}
		words = append(words, string(tok.Term))
	}
	if len(words) == 0 {
		return nil
	}

	terms := make([]string, 0, 2*len(words)-1)
	terms = append(terms, words...)
	for i := 1; i < len(words); i++ {
		terms = append(terms, words[i-1]+" "+words[i])
	}
	return terms
}

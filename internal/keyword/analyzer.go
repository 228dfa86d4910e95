package keyword

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

const plainAnalyzerName = "kb_plain"

type tokenAnalyzer interface {
	Analyze(input []byte) analysis.TokenStream
}

// Analyzer turns text into index terms: Unicode word segmentation, lowercasing and,
// optionally, English stop word removal.
type Analyzer struct {
	analyzer tokenAnalyzer
}

// NewAnalyzer builds an analyzer from the bleve registry. With stopWords the standard
// analyzer is used; otherwise a unicode + to_lower chain.
func NewAnalyzer(stopWords bool) (*Analyzer, error) {
	im := bleve.NewIndexMapping()
	name := standard.Name
	if !stopWords {
		err := im.AddCustomAnalyzer(plainAnalyzerName, map[string]interface{}{
			"type":          custom.Name,
			"tokenizer":     unicode.Name,
			"token_filters": []string{lowercase.Name},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to register analyzer: %w", err)
		}
		name = plainAnalyzerName
	}
	a := im.AnalyzerNamed(name)
	if a == nil {
		return nil, fmt.Errorf("analyzer %q not available", name)
	}
	return &Analyzer{analyzer: a}, nil
}

// Terms returns the analyzed terms of text in order, duplicates included.
func (a *Analyzer) Terms(text string) []string {
	tokens := a.analyzer.Analyze([]byte(text))
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok.Term) > 0 {
			terms = append(terms, string(tok.Term))
		}
	}
	return terms
}

// UniqueTerms returns the distinct analyzed terms of text in first-seen order.
func (a *Analyzer) UniqueTerms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range a.Terms(text) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

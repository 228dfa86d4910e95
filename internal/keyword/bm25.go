package keyword

import (
	"context"
	"math"
	"sort"
	"sync"
)

// BM25Index is an in-memory inverted index scored with Okapi BM25:
//
//	idf(t)   = ln((N - df + 0.5) / (df + 0.5) + 1)
//	score(d) = sum idf(t) * tf*(k1+1) / (tf + k1*(1 - b + b*|d|/avgdl))
type BM25Index struct {
	k1       float64
	b        float64
	analyzer *Analyzer

	mu       sync.RWMutex
	postings map[string]map[string]int // term -> chunk id -> term frequency
	docLen   map[string]int
	docTerms map[string][]string
	totalLen int
}

// NewBM25Index creates an empty index.
func NewBM25Index(analyzer *Analyzer, k1, b float64) *BM25Index {
	return &BM25Index{
		k1:       k1,
		b:        b,
		analyzer: analyzer,
		postings: make(map[string]map[string]int),
		docLen:   make(map[string]int),
		docTerms: make(map[string][]string),
	}
}

// Empty returns a new index with the same analyzer and parameters.
func (x *BM25Index) Empty() *BM25Index {
	return NewBM25Index(x.analyzer, x.k1, x.b)
}

// Add indexes text under id, replacing any previous text for id.
func (x *BM25Index) Add(ctx context.Context, id, text string) error {
	terms := x.analyzer.Terms(text)
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
	unique := make([]string, 0, len(tf))
	for t, n := range tf {
		p, ok := x.postings[t]
		if !ok {
			p = make(map[string]int)
			x.postings[t] = p
		}
		p[id] = n
		unique = append(unique, t)
	}
	x.docLen[id] = len(terms)
	x.docTerms[id] = unique
	x.totalLen += len(terms)
	return nil
}

// Remove drops ids from the index. Unknown ids are ignored.
func (x *BM25Index) Remove(ctx context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		x.removeLocked(id)
	}
	return nil
}

func (x *BM25Index) removeLocked(id string) {
	n, ok := x.docLen[id]
	if !ok {
		return
	}
	for _, t := range x.docTerms[id] {
		if p := x.postings[t]; p != nil {
			delete(p, id)
			if len(p) == 0 {
				delete(x.postings, t)
			}
		}
	}
	x.totalLen -= n
	delete(x.docLen, id)
	delete(x.docTerms, id)
}

// Search returns up to limit chunks containing at least one query term, best first.
// Equal scores are ordered by chunk id.
func (x *BM25Index) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	terms := x.analyzer.UniqueTerms(query)

	x.mu.RLock()
	defer x.mu.RUnlock()
	n := len(x.docLen)
	if n == 0 || len(terms) == 0 {
		return nil, nil
	}
	avgdl := float64(x.totalLen) / float64(n)
	if avgdl == 0 {
		avgdl = 1
	}

	scores := make(map[string]float64)
	for _, t := range terms {
		p := x.postings[t]
		if len(p) == 0 {
			continue
		}
		df := float64(len(p))
		idf := math.Log((float64(n)-df+0.5)/(df+0.5) + 1)
		for id, tf := range p {
			f := float64(tf)
			norm := 1 - x.b + x.b*float64(x.docLen[id])/avgdl
			scores[id] += idf * f * (x.k1 + 1) / (f + x.k1*norm)
		}
	}

	results := make([]*KeywordResult, 0, len(scores))
	for id, s := range scores {
		results = append(results, &KeywordResult{ID: id, Score: s})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

// DocFrequency returns the number of chunks containing the analyzed form of term.
func (x *BM25Index) DocFrequency(term string) int {
	terms := x.analyzer.Terms(term)
	if len(terms) == 0 {
		return 0
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.postings[terms[0]])
}

// Has reports whether id is indexed.
func (x *BM25Index) Has(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.docLen[id]
	return ok
}

// Stats returns corpus size, vocabulary size and mean chunk length in terms.
func (x *BM25Index) Stats() IndexStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s := IndexStats{DocCount: len(x.docLen), UniqueTerms: len(x.postings)}
	if s.DocCount > 0 {
		s.AvgDocLength = float64(x.totalLen) / float64(s.DocCount)
	}
	return s
}

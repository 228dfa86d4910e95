package search

import (
	"sort"

	"github.com/hyperjump/kbsearch/internal/models"
)

// FusedResult is one chunk's reciprocal-rank score within a query.
type FusedResult struct {
	ChunkID     string
	Score       float64
	Method      models.Method
	SubQuery    string
	VectorRank  int // 1-based, 0 when absent
	LexicalRank int // 1-based, 0 when absent
}

// NormalizeWeights scales alpha and beta to sum to 1. Negative weights count as 0;
// when both are 0 the result is (0, 0).
func NormalizeWeights(alpha, beta float64) (float64, float64) {
	if alpha < 0 {
		alpha = 0
	}
	if beta < 0 {
		beta = 0
	}
	sum := alpha + beta
	if sum == 0 {
		return 0, 0
	}
	return alpha / sum, beta / sum
}

// FuseRRF combines two ranked id lists, best first, with Reciprocal Rank Fusion:
// each list contributes weight/(k+rank+1) for a 0-based rank. Results are ordered
// by score descending, ties by chunk id.
func FuseRRF(vectorIDs, lexicalIDs []string, alpha, beta float64, k int) []*FusedResult {
	byID := make(map[string]*FusedResult, len(vectorIDs)+len(lexicalIDs))
	add := func(ids []string, weight float64, method models.Method) {
		for rank, id := range ids {
			r, ok := byID[id]
			if !ok {
				r = &FusedResult{ChunkID: id}
				byID[id] = r
			}
			if r.Method.Has(method) {
				continue
			}
			r.Score += weight / float64(k+rank+1)
			r.Method |= method
			if method == models.MethodVector {
				r.VectorRank = rank + 1
			} else {
				r.LexicalRank = rank + 1
			}
		}
	}
	add(vectorIDs, alpha, models.MethodVector)
	add(lexicalIDs, beta, models.MethodLexical)

	results := make([]*FusedResult, 0, len(byID))
	for _, r := range byID {
		results = append(results, r)
	}
	SortFused(results)
	return results
}

// NormalizeScores divides every score by the largest so the top result scores 1.
func NormalizeScores(results []*FusedResult) {
	var maxScore float64
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	if maxScore <= 0 {
		return
	}
	for _, r := range results {
		r.Score /= maxScore
	}
}

// MergeSubQueries folds per-sub-query results by chunk id, keeping the highest score
// (and the sub-query and ranks that produced it) and the union of methods.
func MergeSubQueries(perSubQuery ...[]*FusedResult) []*FusedResult {
	best := make(map[string]*FusedResult)
	for _, results := range perSubQuery {
		for _, r := range results {
			cur, ok := best[r.ChunkID]
			if !ok {
				cp := *r
				best[r.ChunkID] = &cp
				continue
			}
			methods := cur.Method | r.Method
			if r.Score > cur.Score {
				*cur = *r
			}
			cur.Method = methods
		}
	}
	out := make([]*FusedResult, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	SortFused(out)
	return out
}

// Cutoff drops results scoring below threshold and keeps at most topK.
func Cutoff(results []*FusedResult, threshold float64, topK int) []*FusedResult {
	kept := results[:0]
	for _, r := range results {
		if r.Score >= threshold {
			kept = append(kept, r)
		}
	}
	if topK > 0 && len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}

// SortFused orders by score descending, ties by chunk id ascending.
func SortFused(results []*FusedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

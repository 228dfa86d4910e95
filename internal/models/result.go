package models

import (
	"encoding/json"
	"fmt"
)

// Method is the set of retrieval methods that found a chunk.
type Method uint8

const (
	MethodVector  Method = 1 << iota // semantic, cosine similarity
	MethodLexical                    // BM25
	MethodBoth    = MethodVector | MethodLexical
)

func (m Method) String() string {
	switch m {
	case MethodVector:
		return "vector"
	case MethodLexical:
		return "lexical"
	case MethodBoth:
		return "both"
	default:
		return "none"
	}
}

// Has reports whether m includes every method in other.
func (m Method) Has(other Method) bool { return m&other == other }

// MarshalJSON encodes the method by name.
func (m Method) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a method name.
func (m *Method) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "vector":
		*m = MethodVector
	case "lexical":
		*m = MethodLexical
	case "both":
		*m = MethodBoth
	default:
		return fmt.Errorf("unknown method %q", s)
	}
	return nil
}

// SearchResult is one ranked chunk.
type SearchResult struct {
	ChunkID            string  `json:"chunk_id"`
	DocumentID         string  `json:"document_id"`
	SourceURI          string  `json:"source_uri,omitempty"`
	Score              float64 `json:"score"`
	Snippet            string  `json:"snippet"`
	ContributingMethod Method  `json:"contributing_method"`
	SubQuery           string  `json:"sub_query,omitempty"`
	VectorRank         int     `json:"vector_rank,omitempty"`
	LexicalRank        int     `json:"lexical_rank,omitempty"`
}

// SearchResponse wraps results with query diagnostics.
type SearchResponse struct {
	Collection string          `json:"collection"`
	Query      string          `json:"query"`
	SubQueries []string        `json:"sub_queries"`
	Results    []*SearchResult `json:"results"`
	Degraded   []string        `json:"degraded,omitempty"`
	QueryTime  int64           `json:"query_time_ms"`
}

package vector

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx := NewMemoryIndex("bench_kb")
	ctx := context.Background()
	pts := make([]Point, 1000)
	for i := range pts {
		v := make([]float32, 384)
		v[0] = float32(i) / 1000
		v[1+i%383] = 1
		pts[i] = Point{ID: fmt.Sprintf("c%d", i), Vector: v, Payload: Payload{DocumentID: fmt.Sprintf("d%d", i/10)}}
	}
	if err := idx.Upsert(ctx, "fallback-hash-384", pts); err != nil {
		b.Fatal(err)
	}
	query := make([]float32, 384)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, "fallback-hash-384", query, 10)
	}
}

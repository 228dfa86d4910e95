package search

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkFuseRRF(b *testing.B) {
	vectorIDs := make([]string, 100)
	lexicalIDs := make([]string, 100)
	for i := 0; i < 100; i++ {
		vectorIDs[i] = fmt.Sprintf("c%d", i)
		lexicalIDs[i] = fmt.Sprintf("c%d", 99-i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = FuseRRF(vectorIDs, lexicalIDs, 0.7, 0.3, 60)
	}
}

func BenchmarkEngineSearch(b *testing.B) {
	f := newFixture(b, 50, 10)
	for i := 0; i < 200; i++ {
		f.ingest(b, fmt.Sprintf("doc-%d.txt", i),
			fmt.Sprintf("Document %d covers refunds, shipping window %d and account recovery steps.", i, i%7))
	}
	eng := f.engine(testHybridConfig())
	ctx := context.Background()
	req := request("how long do refunds take", 10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eng.Search(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

package embedding

import (
	"context"
	"math"
	"testing"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestFallbackBackend_Deterministic(t *testing.T) {
	f := NewFallbackBackend(384)
	texts := []string{
		"The quick brown fox jumps over the lazy dog",
		"a",
		"one two three four five six seven eight nine ten eleven twelve thirteen",
		"",
	}
	for _, text := range texts {
		a, _ := f.Embed(context.Background(), text)
		b, _ := f.Embed(context.Background(), text)
		if len(a) != 384 {
			t.Fatalf("len = %d, want 384", len(a))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("text %q: vectors differ at %d", text, i)
			}
		}
		if n := norm(a); math.Abs(n-1) > 1e-5 {
			t.Errorf("text %q: norm = %v, want 1", text, n)
		}
	}
}

func TestFallbackBackend_DifferentTextsDiffer(t *testing.T) {
	f := NewFallbackBackend(64)
	a, _ := f.Embed(context.Background(), "alpha beta")
	b, _ := f.Embed(context.Background(), "gamma delta")
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts should give different vectors")
	}
}

func TestFallbackBackend_ID(t *testing.T) {
	f := NewFallbackBackend(0)
	if f.Dimensions() != 384 {
		t.Errorf("default dims = %d", f.Dimensions())
	}
	if f.ID() != "fallback-hash-384" {
		t.Errorf("ID() = %s", f.ID())
	}
}

func TestShingles(t *testing.T) {
	got := shingles("w1 w2 w3 w4 w5 w6 w7 w8 w9 w10 w11")
	if len(got) != 2 || got[1] != "w11" {
		t.Errorf("shingles = %q", got)
	}
	if shingles("   ") != nil {
		t.Error("blank text should have no shingles")
	}
}

package utils

import "testing"

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	got, err := DecodeVector(EncodeVector(v))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("index %d: got %v want %v", i, got[i], v[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated data")
	}
}

func TestL2Norm(t *testing.T) {
	if n := L2Norm([]float32{3, 4}); n != 5 {
		t.Errorf("L2Norm = %v, want 5", n)
	}
}

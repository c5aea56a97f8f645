package rag

import (
	"math"
	"testing"
)

func TestDocumentID_StableUnderNormalisation(t *testing.T) {
	t.Parallel()

	a := DocumentID("The Quick   Brown Fox")
	b := DocumentID("the quick brown fox")
	c := DocumentID("  THE  QUICK\nBROWN\tFOX  ")

	if a != b || b != c {
		t.Errorf("IDs differ for equivalent content: %q %q %q", a, b, c)
	}
	if len(a) != 32 {
		t.Errorf("ID length: want 32 hex chars, got %d", len(a))
	}

	if DocumentID("something else") == a {
		t.Error("distinct content produced identical IDs")
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello world"},
		{"  a \t b \n c  ", "a b c"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeVector_UnitLength(t *testing.T) {
	t.Parallel()

	v := NormalizeVector([]float32{3, 4})
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("normalised vector has squared length %f, want 1", sum)
	}

	// Zero vector passes through unchanged.
	z := NormalizeVector([]float32{0, 0, 0})
	for _, x := range z {
		if x != 0 {
			t.Errorf("zero vector changed: %v", z)
		}
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	a := NormalizeVector([]float32{1, 0})
	b := NormalizeVector([]float32{1, 0})
	c := NormalizeVector([]float32{0, 1})

	if got := Cosine(a, b); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("identical vectors: got %f, want 1", got)
	}
	if got := Cosine(a, c); math.Abs(float64(got)) > 1e-6 {
		t.Errorf("orthogonal vectors: got %f, want 0", got)
	}
	if got := Cosine(a, []float32{1, 0, 0}); got != 0 {
		t.Errorf("length mismatch: got %f, want 0", got)
	}
}

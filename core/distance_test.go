package core

import (
	"testing"
)

func TestHamming(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Signature
		expected int
	}{
		{
			name:     "Identical Signatures",
			a:        Signature{1, 2, 3, 4, 5, 6, 7, 8},
			b:        Signature{1, 2, 3, 4, 5, 6, 7, 8},
			expected: 0,
		},
		{
			name:     "All Different",
			a:        Signature{1, 2, 3, 4, 5, 6, 7, 8},
			b:        Signature{8, 7, 6, 5, 4, 3, 2, 1},
			expected: 8,
		},
		{
			name: "Odd Length Tail",
			a:    Signature{1, 2, 3, 4, 5},
			b:    Signature{1, 0, 3, 4, 0},
			// Two mismatches, one inside the unrolled loop and one in the tail.
			expected: 2,
		},
		{
			name:     "Empty",
			a:        Signature{},
			b:        Signature{},
			expected: 0,
		},
	}

	for _, tt := range tests {
		tt := tt // capture range variable
		t.Run(tt.name, func(t *testing.T) {
			if got := Hamming(tt.a, tt.b); got != tt.expected {
				t.Errorf("Hamming(%v, %v) = %d; want %d", tt.a, tt.b, got, tt.expected)
			}
			if got := Hamming(tt.b, tt.a); got != tt.expected {
				t.Errorf("Hamming is not symmetric for %v, %v", tt.a, tt.b)
			}
		})
	}
}

func TestHammingLengthMismatchPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected panic on length mismatch")
		}
	}()
	Hamming(Signature{1, 2}, Signature{1})
}

func TestDistancesRegistry(t *testing.T) {
	if _, ok := Distances["hamming"]; !ok {
		t.Fatal("hamming distance is not registered")
	}
}

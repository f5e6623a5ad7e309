package core

// Distances is a map of human-readable names to distance functions.
// Sketch indexes only support the Hamming distance; the map exists so the
// persisted parameters can name the metric they were built with.
var Distances = map[string]DistanceFunc{
	"hamming": Hamming,
}

// DistanceFunc computes the distance between two signatures.
// a: the first signature.
// b: the second signature.
// Returns the number of positions at which the signatures differ.
type DistanceFunc func(a, b Signature) int

// Hamming returns the count of positions at which a and b hold different values.
// Lower is more similar; identical signatures have distance 0.
func Hamming(a, b Signature) int {
	if len(a) != len(b) {
		panic("signatures must have the same length")
	}
	d := 0
	// Manually unrolled by four, sketches are typically 8..256 long.
	i := 0
	for ; i+4 <= len(a); i += 4 {
		if a[i] != b[i] {
			d++
		}
		if a[i+1] != b[i+1] {
			d++
		}
		if a[i+2] != b[i+2] {
			d++
		}
		if a[i+3] != b[i+3] {
			d++
		}
	}
	for ; i < len(a); i++ {
		if a[i] != b[i] {
			d++
		}
	}
	return d
}

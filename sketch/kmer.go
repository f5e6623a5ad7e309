package sketch

// MaxKmerSize is the largest k for which a k-mer packs into a uint64 at 2 bits per base.
const MaxKmerSize = 32

// baseCode maps a nucleotide to its 2-bit code; 0xff marks an ambiguous residue.
var baseCode = func() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = 0xff
	}
	for _, p := range []struct {
		b    byte
		code byte
	}{{'A', 0}, {'C', 1}, {'G', 2}, {'T', 3}, {'U', 3}} {
		t[p.b] = p.code
		t[p.b+('a'-'A')] = p.code
	}
	return t
}()

// kmerIter walks a sequence with a window of length k advanced by one residue,
// yielding each k-mer packed 2 bits per base. Windows that contain an ambiguous
// residue are skipped.
type kmerIter struct {
	seq       []byte
	k         int
	canonical bool

	pos   int    // next residue to consume
	valid int    // residues in the current window since the last ambiguous one
	fwd   uint64 // forward strand packed k-mer
	rev   uint64 // reverse complement packed k-mer
	mask  uint64
	shift uint
}

func newKmerIter(seq []byte, k int, canonical bool) *kmerIter {
	mask := ^uint64(0)
	if k < MaxKmerSize {
		mask = (uint64(1) << (2 * uint(k))) - 1
	}
	return &kmerIter{
		seq:       seq,
		k:         k,
		canonical: canonical,
		mask:      mask,
		shift:     2 * uint(k-1),
	}
}

// next returns the next packed k-mer, or false once the sequence is exhausted.
func (it *kmerIter) next() (uint64, bool) {
	for it.pos < len(it.seq) {
		c := baseCode[it.seq[it.pos]]
		it.pos++
		if c == 0xff {
			it.valid = 0
			it.fwd, it.rev = 0, 0
			continue
		}
		it.fwd = ((it.fwd << 2) | uint64(c)) & it.mask
		it.rev = (it.rev >> 2) | (uint64(3-c) << it.shift)
		it.valid++
		if it.valid < it.k {
			continue
		}
		if it.canonical && it.rev < it.fwd {
			return it.rev, true
		}
		return it.fwd, true
	}
	return 0, false
}

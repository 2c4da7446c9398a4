package qkd

import (
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/quantumshield/qkdsim/qkd/bitarray"
)

// A toeplitz represents a matrix whose diagonals are all constant. It operates
// in F_2, i.e. all of its scalars are 0 or 1. Multiplication by a random
// toeplitz matrix is a universal hash family, which is what privacy
// amplification needs to squeeze an eavesdropper's information out of the
// corrected key.
type toeplitz struct {
	// The diagonal constants for this toeplitz matrix, starting from the
	// bottom left and ending with the top right.
	diags bitarray.Dense

	m int
	n int
}

// TODO: surely there are ways to take advantage of the structure of a toeplitz
//   matrix to achieve vector mul in better than O(mn) time. Even constant
//   factor improvements are worth investigating; this is the hot loop of key
//   extraction.

// Mul computes the matrix product Av between the toeplitz matrix t and the
// provided vector.
func (t toeplitz) Mul(vec bitarray.Dense) (bitarray.Dense, error) {
	if t.diags.Size() < t.m+t.n-1 {
		return bitarray.Empty(), fmt.Errorf("improper toeplitz construction, has %d diagonals, needs %d", t.diags.Size(), t.m+t.n-1)
	}
	if t.n != vec.Size() {
		return bitarray.Empty(), fmt.Errorf("multiplying %dx%d matrix into %d-dim vector", t.m, t.n, vec.Size())
	}

	var r bitarray.Dense
	for off := t.m - 1; off >= 0; off-- {
		row, err := t.diags.Slice(off, off+t.n)
		if err != nil {
			return bitarray.Empty(), err
		}
		r.AppendBit(row.Dot(vec))
	}
	return r, nil
}

// expandDiags stretches a short seed into the diagonal constants of an
// extractor matrix via SHAKE256. Both ends of an exchange derive identical
// matrices from the announced seed.
func expandDiags(seed []byte, bits int) bitarray.Dense {
	buf := make([]byte, bitarray.BytesFor(bits))
	sha3.ShakeSum256(buf, seed)
	return bitarray.NewDense(buf, bits)
}

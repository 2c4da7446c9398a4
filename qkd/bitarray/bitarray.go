// Package bitarray provides utilities for operating on densely-packed arrays
// of booleans.
package bitarray

import (
	"fmt"
	"math/bits"

	"github.com/quantumshield/qkdsim/qkd/rng"
)

// TODO: this could be more efficient on many architectures if we used larger
//   blocks than 8-bit bytes.

const blockSize = 8

// A Dense is a bit array where every bit is explicitly represented.
type Dense struct {
	bits []byte
	len  int
}

// NewDense returns a new Dense whose data is a copy of data, and whose length
// is bitLen. If bitLen is longer than data, then trailing zeros are added. If
// bitLen is negative, then it is inferred from data.
func NewDense(data []byte, bitLen int) Dense {
	if bitLen < 0 {
		bitLen = len(data) * blockSize
	}
	b := make([]byte, BytesFor(bitLen))
	copy(b, data)
	d := Dense{bits: b, len: bitLen}
	d.clearTail()
	return d
}

// Empty returns an empty, dense bit array.
func Empty() Dense {
	return Dense{}
}

// FromString converts a string of '1's and '0's to a Dense, low-order bits
// first. Spaces are ignored.
func FromString(s string) (Dense, error) {
	var d Dense
	for _, c := range s {
		switch c {
		case '1':
			d.AppendBit(true)
		case '0':
			d.AppendBit(false)
		case ' ':
			continue
		default:
			return Dense{}, fmt.Errorf("invalid bitarray string rep: %s", s)
		}
	}
	return d, nil
}

// Size returns the number of bits in d.
func (d Dense) Size() int {
	return d.len
}

// ByteSize returns the number of bytes necessary to represent d.
func (d Dense) ByteSize() int {
	return BytesFor(d.len)
}

// Data returns a copy of the bytes underlying d. Bits past the end of d are
// zero.
func (d Dense) Data() []byte {
	data := make([]byte, d.ByteSize())
	copy(data, d.bits)
	return data
}

// Get returns the bit at idx. Indices past the end of d read as zero.
func (d Dense) Get(idx int) bool {
	if idx >= d.len || idx < 0 {
		return false
	}
	return 0 < d.bits[idx/blockSize]&(1<<(idx%blockSize))
}

// AppendBit adds a single bit to the end of d.
func (d *Dense) AppendBit(bit bool) {
	pos := d.len % blockSize
	d.len++
	if pos == 0 {
		d.bits = append(d.bits, 0)
	}
	if bit {
		d.bits[len(d.bits)-1] |= 1 << pos
	}
}

// Append adds the contents of other to the end of d.
func (d *Dense) Append(other Dense) {
	for i := 0; i < other.len; i++ {
		d.AppendBit(other.Get(i))
	}
}

// Flip inverts the bit at idx.
func (d *Dense) Flip(idx int) {
	d.bits[idx/blockSize] ^= 1 << (idx % blockSize)
}

// Shuffle randomly permutes the contents of d, using r as a source of
// randomness.
func (d *Dense) Shuffle(r rng.Rand) {
	for i := d.len - 1; i > 0; i-- {
		d.swap(i, r.Intn(i+1))
	}
}

// Permute returns a copy of d reordered so that bit i of the result is bit
// perm[i] of d. The two ends of a simulated exchange apply the same
// permutation to stay aligned.
func (d Dense) Permute(perm []int) Dense {
	var r Dense
	for _, idx := range perm {
		r.AppendBit(d.Get(idx))
	}
	return r
}

func (d *Dense) swap(i, j int) {
	a, b := d.Get(i), d.Get(j)
	if a == b {
		return
	}
	d.Flip(i)
	d.Flip(j)
}

// And computes a bitwise AND operation between d and other. If one of the two
// is shorter than the other, then trailing 0s are implicitly added to make the
// sizes match.
func (d Dense) And(other Dense) Dense {
	long := d
	if d.len < other.len {
		long = other
	}
	r := Dense{
		bits: make([]byte, BytesFor(long.len)),
		len:  long.len,
	}
	for i := 0; i < len(d.bits) && i < len(other.bits); i++ {
		r.bits[i] = d.bits[i] & other.bits[i]
	}
	return r
}

// XOr computes a bitwise XOR operation between d and other. If one of the two
// is shorter than the other, then trailing 0s are implicitly added to make the
// sizes match.
func (d Dense) XOr(other Dense) Dense {
	short, long := other, d
	if d.len < other.len {
		short, long = d, other
	}
	r := Dense{
		bits: make([]byte, BytesFor(long.len)),
		len:  long.len,
	}
	copy(r.bits, long.bits)
	for i := range short.bits {
		r.bits[i] ^= short.bits[i]
	}
	return r
}

// XNor computes a bitwise equality operation between d and other. If one of
// the two is shorter than the other, then trailing 0s are implicitly added to
// make the sizes match.
func (d Dense) XNor(other Dense) Dense {
	r := d.XOr(other)
	for i := range r.bits {
		r.bits[i] = ^r.bits[i]
	}
	r.clearTail()
	return r
}

// Not returns a copy of d whose bits have all been flipped.
func (d Dense) Not() Dense {
	return d.XNor(Dense{bits: nil, len: d.len})
}

// Parity returns the overall parity of d, with true corresponding to 1 and
// false to 0.
func (d Dense) Parity() bool {
	var sum byte
	for _, b := range d.bits {
		sum ^= b
	}
	return bits.OnesCount8(sum)%2 == 1
}

// CountOnes returns the total number of bits set in d.
func (d Dense) CountOnes() int {
	var sum int
	for _, b := range d.bits {
		sum += bits.OnesCount8(b)
	}
	return sum
}

// Dot computes the inner product (d^T * other) of d and other, treating them
// as vectors mod 2.
func (d Dense) Dot(other Dense) bool {
	return d.And(other).Parity()
}

// Select selects a subset of bits from d, according to which bits are set in
// mask.
func (d Dense) Select(mask Dense) Dense {
	var r Dense
	for i := 0; i < d.len; i++ {
		if !mask.Get(i) {
			continue
		}
		r.AppendBit(d.Get(i))
	}
	return r
}

// Slice returns a copy of bits [start, end) of d.
func (d Dense) Slice(start, end int) (Dense, error) {
	if start < 0 {
		return Dense{}, fmt.Errorf("slicing bitarray with negative start: %d", start)
	}
	if end < start {
		return Dense{}, fmt.Errorf("slicing bitarray to negative length: %d", end-start)
	}
	if end > d.len {
		return Dense{}, fmt.Errorf("slicing bitarray of len %d up to %d", d.len, end)
	}
	var r Dense
	for i := start; i < end; i++ {
		r.AppendBit(d.Get(i))
	}
	return r, nil
}

// Equal returns true iff d and other have the same size and contain the same
// bits.
func Equal(a, b Dense) bool {
	return a.len == b.len && a.XOr(b).CountOnes() == 0
}

// BytesFor returns the number of bytes necessary to hold the provided number
// of bits.
func BytesFor(bits int) int {
	return (bits + blockSize - 1) / blockSize
}

// clearTail zeroes the unused high bits of the final block, so that Data and
// Parity never observe stale values.
func (d *Dense) clearTail() {
	if d.len%blockSize == 0 || len(d.bits) == 0 {
		return
	}
	d.bits[len(d.bits)-1] &= 0xFF >> (blockSize - d.len%blockSize)
}

package embedder

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// fallbackVector derives a deterministic, L2-normalized vector from the
// text alone. It expands sha256(text) in counter mode so any dimension can
// be filled, then maps each 4-byte word onto [-1, 1) before normalizing.
// The projection is provider-independent: the same text always yields the
// same vector regardless of which remote model was unreachable.
func fallbackVector(text string, dimension int) []float32 {
	seed := sha256.Sum256([]byte(text))
	vector := make([]float32, dimension)
	var block [sha256.Size]byte
	var counter uint64
	offset := sha256.Size
	for i := range vector {
		if offset+4 > sha256.Size {
			var input [sha256.Size + 8]byte
			copy(input[:], seed[:])
			binary.BigEndian.PutUint64(input[sha256.Size:], counter)
			block = sha256.Sum256(input[:])
			counter++
			offset = 0
		}
		word := binary.BigEndian.Uint32(block[offset : offset+4])
		offset += 4
		vector[i] = float32(int64(word)-math.MaxInt32) / float32(math.MaxInt32)
	}
	return l2Normalize(vector)
}

// zeroVector is the canonical result for empty or whitespace-only text.
func zeroVector(dimension int) []float32 {
	return make([]float32, dimension)
}

func l2Normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vector
	}
	norm := math.Sqrt(sum)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}
	return vector
}

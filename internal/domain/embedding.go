package domain

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeEmbedding packs v as little-endian float32 values.
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding is the inverse of EncodeEmbedding. A blob whose length is
// not a multiple of four is rejected.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

// Vector decodes the chunk's embedding and checks it against Dimension.
func (c *TranscriptChunk) Vector() ([]float32, error) {
	v, err := DecodeEmbedding(c.Embedding)
	if err != nil {
		return nil, err
	}
	if c.Dimension <= 0 || len(v) != c.Dimension {
		return nil, fmt.Errorf("chunk %s: embedding has %d values, dimension is %d", c.ID, len(v), c.Dimension)
	}
	return v, nil
}

package store

import (
	"encoding/binary"
	"math"
)

// encodeEmbedding packs a float32 vector into a flat byte slice
// (little-endian, 4 bytes per component) for storage in a BYTEA
// column. The dimension is fixed at build time and is not stored
// alongside the bytes — callers already know it from
// config.EmbeddingConfig.Dimension.
func encodeEmbedding(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeEmbedding(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
	}
	return out
}

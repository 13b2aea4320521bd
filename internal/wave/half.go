package wave

import (
	"math"

	"github.com/x448/float16"
)

// PackHalf converts src to IEEE 754 binary16 in dst, rounding to nearest
// even. dst must hold at least len(src) values. Half precision halves the
// size of a per-frame height upload.
func PackHalf(dst []uint16, src []float32) {
	for i, v := range src {
		dst[i] = float16.Fromfloat32(v).Bits()
	}
}

// UnpackHalf expands binary16 values from src into dst.
func UnpackHalf(dst []float32, src []uint16) {
	for i, v := range src {
		dst[i] = float16.Frombits(v).Float32()
	}
}

// PackHalfPairs packs src two binary16 values per 32-bit word, element 2k
// in the low half of dst[k]; an odd tail is paired with zero. The words are
// bit patterns kept in float32 slots so they can travel through float grids
// untouched. Read them back with UnpackHalfPair.
func PackHalfPairs(dst []float32, src []float32) {
	for k := 0; 2*k < len(src); k++ {
		lo := uint32(float16.Fromfloat32(src[2*k]).Bits())
		var hi uint32
		if 2*k+1 < len(src) {
			hi = uint32(float16.Fromfloat32(src[2*k+1]).Bits())
		}
		dst[k] = math.Float32frombits(lo | hi<<16)
	}
}

// UnpackHalfPair splits a word written by PackHalfPairs.
func UnpackHalfPair(word float32) (lo, hi float32) {
	bits := math.Float32bits(word)
	return float16.Frombits(uint16(bits)).Float32(), float16.Frombits(uint16(bits >> 16)).Float32()
}

// Package filter runs image stencils (separable Gaussian blur, Sobel edge
// detection) over a pair of ping-pong scratch grids and composites the
// result into a target grid.
//
// Images are grids of four float32 channels (RGBA) per pixel.
package filter

import (
	"fmt"
	"math"
)

// MaxBlurRadius is the largest kernel radius the blur constants can hold.
const MaxBlurRadius = 5

// blurConstants is the constant count of the blur kernels: the radius
// followed by 2*MaxBlurRadius+1 weights.
const blurConstants = 1 + 2*MaxBlurRadius + 1

// BlurRadius returns ceil(2*sigma), or 0 when sigma is not positive or is
// NaN. Radii beyond math.MaxInt32 saturate.
func BlurRadius(sigma float32) int {
	if !(sigma > 0) {
		return 0
	}
	return int(min(math.Ceil(2*float64(sigma)), math.MaxInt32))
}

// GaussianWeights returns the normalized weights exp(-x^2/(2 sigma^2)) for
// x in [-r, r], r = ceil(2 sigma). A non-positive or NaN sigma yields the identity
// kernel {1}. It panics when r exceeds MaxBlurRadius.
func GaussianWeights(sigma float32) []float32 {
	r := BlurRadius(sigma)
	if r > MaxBlurRadius {
		panic(fmt.Sprintf("filter: blur radius %d for sigma %g exceeds %d", r, sigma, MaxBlurRadius))
	}
	if r == 0 {
		return []float32{1}
	}
	twoSigma2 := 2 * float64(sigma) * float64(sigma)
	w := make([]float64, 2*r+1)
	var sum float64
	for i := -r; i <= r; i++ {
		x := float64(i)
		w[i+r] = math.Exp(-x * x / twoSigma2)
		sum += w[i+r]
	}
	out := make([]float32, len(w))
	for i := range w {
		out[i] = float32(w[i] / sum)
	}
	return out
}

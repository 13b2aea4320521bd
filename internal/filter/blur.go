package filter

import (
	"fmt"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

// DefaultSigma and DefaultIterations give a soft blur at interactive cost.
const (
	DefaultSigma      = 2.5
	DefaultIterations = 4
)

// Blur is a separable Gaussian blur: each iteration is a horizontal pass
// followed by a vertical pass.
type Blur struct {
	sigma     float32
	weights   []float32
	constants []float32
	h, v      *gpu.Stencil
}

var _ Filter = (*Blur)(nil)

// NewBlur compiles both passes for sigma. It panics when ceil(2 sigma)
// exceeds MaxBlurRadius.
func NewBlur(dev gpu.Device, tracker *gpu.Tracker, sigma float32) (*Blur, error) {
	weights := GaussianWeights(sigma)
	b := &Blur{sigma: sigma, weights: weights, constants: make([]float32, blurConstants)}
	b.constants[0] = float32(len(weights) / 2)
	copy(b.constants[1:], weights)

	var err error
	if b.h, err = gpu.NewStencil(dev, tracker, BlurHKernel); err != nil {
		return nil, fmt.Errorf("blur: %w", err)
	}
	if b.v, err = gpu.NewStencil(dev, tracker, BlurVKernel); err != nil {
		b.h.Close()
		return nil, fmt.Errorf("blur: %w", err)
	}
	return b, nil
}

// Name returns "blur".
func (b *Blur) Name() string { return "blur" }

// Sigma returns the standard deviation the weights were built from.
func (b *Blur) Sigma() float32 { return b.sigma }

// Weights returns the normalized kernel weights.
func (b *Blur) Weights() []float32 { return b.weights }

// Iterate records one horizontal and one vertical pass.
func (b *Blur) Iterate(cl gpu.CommandList, pp *PingPong) {
	pp.Apply(cl, b.h, b.constants)
	pp.Apply(cl, b.v, b.constants)
}

// Mode is Replace: the blurred image is the output.
func (b *Blur) Mode() CompositeMode { return Replace }

// Close releases both passes.
func (b *Blur) Close() {
	b.h.Close()
	b.v.Close()
}

// EdgeDetect is the Sobel filter. Its output darkens the source where the
// gradient is strong.
type EdgeDetect struct {
	k *gpu.Stencil
}

var _ Filter = (*EdgeDetect)(nil)

// NewEdgeDetect compiles the Sobel kernel.
func NewEdgeDetect(dev gpu.Device, tracker *gpu.Tracker) (*EdgeDetect, error) {
	k, err := gpu.NewStencil(dev, tracker, SobelKernel)
	if err != nil {
		return nil, fmt.Errorf("edge detect: %w", err)
	}
	return &EdgeDetect{k: k}, nil
}

// Name returns "edge".
func (e *EdgeDetect) Name() string { return "edge" }

// Iterate records one Sobel pass.
func (e *EdgeDetect) Iterate(cl gpu.CommandList, pp *PingPong) {
	pp.Apply(cl, e.k, nil)
}

// Mode is Modulate: edges darken the source.
func (e *EdgeDetect) Mode() CompositeMode { return Modulate }

// Close releases the kernel.
func (e *EdgeDetect) Close() { e.k.Close() }

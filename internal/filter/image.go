package filter

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// GridFromImage scales img to width x height with bilinear filtering and
// returns its pixels as RGBA float32 values in [0, 1], row-major.
func GridFromImage(img image.Image, width, height int) []float32 {
	dst := image.NewRGBA64(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	out := make([]float32, 0, width*height*4)
	for y := range height {
		for x := range width {
			c := dst.RGBA64At(x, y)
			out = append(out,
				float32(c.R)/0xffff, float32(c.G)/0xffff,
				float32(c.B)/0xffff, float32(c.A)/0xffff)
		}
	}
	return out
}

// ImageFromGrid converts RGBA float32 pixels back to an image, clamping
// every channel to [0, 1].
func ImageFromGrid(data []float32, width, height int) *image.RGBA64 {
	img := image.NewRGBA64(image.Rect(0, 0, width, height))
	q := func(v float32) uint16 { return uint16(min(max(v, 0), 1)*0xffff + 0.5) }
	for y := range height {
		for x := range width {
			i := (y*width + x) * 4
			img.SetRGBA64(x, y, color.RGBA64{R: q(data[i]), G: q(data[i+1]), B: q(data[i+2]), A: q(data[i+3])})
		}
	}
	return img
}

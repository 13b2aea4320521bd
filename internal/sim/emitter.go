package sim

import (
	"image"

	"github.com/distortions81/stencilgpu/internal/filter"
)

// Offset is a cell offset from an emitter centre.
type Offset struct {
	DI, DJ int
}

// Footprint returns the offsets of the cells within radius of the centre.
func Footprint(radius int) []Offset {
	fp := make([]Offset, 0, (2*radius+1)*(2*radius+1))
	r2 := radius * radius
	for di := -radius; di <= radius; di++ {
		for dj := -radius; dj <= radius; dj++ {
			if di*di+dj*dj <= r2 {
				fp = append(fp, Offset{DI: di, DJ: dj})
			}
		}
	}
	return fp
}

// CanDisturb reports whether Disturb accepts (i, j) on a rows x cols grid.
func CanDisturb(rows, cols, i, j int) bool {
	return i > 1 && i < rows-2 && j > 1 && j < cols-2
}

// Stamp appends a disturbance of m for every cell of fp around (i, j)
// that Disturb accepts, and returns the extended slice.
func Stamp(dst []Disturbance, fp []Offset, rows, cols, i, j int, m float32) []Disturbance {
	for _, o := range fp {
		ci, cj := i+o.DI, j+o.DJ
		if !CanDisturb(rows, cols, ci, cj) {
			continue
		}
		dst = append(dst, Disturbance{I: ci, J: cj, M: m})
	}
	return dst
}

// ImageDisturbances scales img to cols x rows and samples it every stride
// cells. Each sampled cell that Disturb accepts and that is not black gets
// a disturbance of m times its luminance.
func ImageDisturbances(img image.Image, rows, cols, stride int, m float32) []Disturbance {
	stride = max(stride, 1)
	rgba := filter.GridFromImage(img, cols, rows)
	var out []Disturbance
	for i := 0; i < rows; i += stride {
		for j := 0; j < cols; j += stride {
			if !CanDisturb(rows, cols, i, j) {
				continue
			}
			o := (i*cols + j) * 4
			l := filter.Luminance(rgba[o], rgba[o+1], rgba[o+2])
			if l < 1.0/255 {
				continue
			}
			out = append(out, Disturbance{I: i, J: j, M: m * l})
		}
	}
	return out
}

package main

import (
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

const headingLength = 6

var (
	emitterColor = color.RGBA{255, 0, 0, 255}
	headingColor = color.RGBA{0, 200, 255, 200}
)

// Draw renders the latest presented frame, the emitter and the optional
// debug overlay.
func (g *Game) Draw(screen *ebiten.Image) {
	if pixels := g.sim.Pixels(); len(pixels) == g.rows*g.cols*4 {
		screen.WritePixels(pixels)
	}

	cy, cx := g.walker.Cell()
	for _, o := range g.walker.Footprint() {
		x, y := cx+o.DJ, cy+o.DI
		if x >= 0 && x < g.cols && y >= 0 && y < g.rows {
			screen.Set(x, y, emitterColor)
		}
	}
	g.drawHeading(screen, cx, cy)

	if *debugFlag {
		debugMsg := fmt.Sprintf("FPS: %.1f (%.1f TPS)\nBackend: %s  Filter: %s\nTicks: %d (%.1f/s, mult %dx, +/-)\nFrame: %.2f ms",
			ebiten.ActualFPS(), ebiten.ActualTPS(), g.sim.Name(), g.cfg.Filter,
			g.sim.Ticks(), g.simTicksPerSecond(), g.simStepMultiplier,
			g.lastSimDuration.Seconds()*1000)
		ebitenutil.DebugPrint(screen, debugMsg)
	}
}

// Layout reports the logical screen size: one pixel per cell.
func (g *Game) Layout(_, _ int) (int, int) { return g.cols, g.rows }

// drawHeading draws the walker's last direction.
func (g *Game) drawHeading(screen *ebiten.Image, cx, cy int) {
	tx := clampCoord(cx+int(g.walker.HeadCol*headingLength), 0, g.cols-1)
	ty := clampCoord(cy+int(g.walker.HeadRow*headingLength), 0, g.rows-1)
	drawLine(screen, cx, cy, tx, ty, headingColor)
}

// drawLine plots a line segment using Bresenham's integer algorithm.
func drawLine(screen *ebiten.Image, x0, y0, x1, y1 int, clr color.Color) {
	b := screen.Bounds()
	dx := abs(x1 - x0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -abs(y1 - y0)
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		if x0 >= b.Min.X && x0 < b.Max.X && y0 >= b.Min.Y && y0 < b.Max.Y {
			screen.Set(x0, y0, clr)
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// clampCoord constrains v to lie within the inclusive [lo, hi] range.
func clampCoord(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

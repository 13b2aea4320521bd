package main

import (
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/distortions81/stencilgpu/internal/sim"
)

// wanderFor hands the walker to a seeded random walk for d.
func (g *Game) wanderFor(d time.Duration) {
	g.wander = sim.NewWander(g.cfg.Seed + 1)
	g.wanderUntil = time.Now().Add(d)
}

// walkerMove returns this frame's (row, col) move: the random walk while
// one is running, otherwise the WASD keys.
func (g *Game) walkerMove() (dRow, dCol float64) {
	if g.wander != nil {
		if time.Now().Before(g.wanderUntil) {
			return g.wander.Next(g.walker, moveSpeed)
		}
		g.wander = nil
		return 0, 0
	}
	if ebiten.IsKeyPressed(ebiten.KeyW) {
		dRow--
	}
	if ebiten.IsKeyPressed(ebiten.KeyS) {
		dRow++
	}
	if ebiten.IsKeyPressed(ebiten.KeyA) {
		dCol--
	}
	if ebiten.IsKeyPressed(ebiten.KeyD) {
		dCol++
	}
	scale := moveSpeed
	if dRow != 0 && dCol != 0 {
		scale *= 0.7071
	}
	return dRow * scale, dCol * scale
}

// handleDebugControls lets +/- change the solver updates per frame when the
// overlay is on.
func (g *Game) handleDebugControls() {
	if !*debugFlag {
		return
	}
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyMinus), inpututil.IsKeyJustPressed(ebiten.KeyKPSubtract):
		g.simStepMultiplier = max(g.simStepMultiplier-simMultiplierStep, minSimMultiplier)
	case inpututil.IsKeyJustPressed(ebiten.KeyEqual), inpututil.IsKeyJustPressed(ebiten.KeyKPAdd):
		g.simStepMultiplier = min(g.simStepMultiplier+simMultiplierStep, maxSimMultiplier)
	}
}

// simTicksPerSecond estimates solver ticks per second. Each update adds
// one frame of time to a clock that ticks every TimeStep, so ticks lag
// updates when frames are shorter than the step.
func (g *Game) simTicksPerSecond() float64 {
	perUpdate := float64(g.frameDt) / float64(g.cfg.Wave.TimeStep)
	return defaultTPS * float64(g.simStepMultiplier) * min(perUpdate, 1)
}

package main

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/distortions81/stencilgpu/internal/config"
	"github.com/distortions81/stencilgpu/internal/sim"
	"github.com/distortions81/stencilgpu/internal/wave"
)

// Game holds the simulator, the emitter and the input state.
type Game struct {
	cfg        config.Config
	sim        sim.Simulator
	rows, cols int

	walker *sim.Walker

	pending   []sim.Disturbance
	disturber *wave.Disturber

	frameDt           float32
	simStepMultiplier int
	lastSimDuration   time.Duration
	lastStatsLog      time.Time
	lastStatsTicks    uint64

	// wander drives the walker instead of the keyboard until wanderUntil.
	wander      *sim.Wander
	wanderUntil time.Time

	stopProfile func()
}

// newGame builds the simulator selected by cfg and centres the emitter.
func newGame(cfg config.Config) (*Game, error) {
	s, err := sim.New(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("Simulator ready", "backend", s.Name(),
		"rows", cfg.Wave.Rows, "cols", cfg.Wave.Cols, "filter", cfg.Filter)
	g := &Game{
		cfg:               cfg,
		sim:               s,
		rows:              cfg.Wave.Rows,
		cols:              cfg.Wave.Cols,
		walker:            sim.NewWalker(cfg.Wave.Rows, cfg.Wave.Cols, emitterRad, stepDelay, stepImpulseStrength),
		disturber:         wave.NewDisturber(cfg.Wave.DisturbInterval, cfg.Wave.DisturbMin, cfg.Wave.DisturbMax, cfg.Seed),
		frameDt:           1.0 / defaultTPS,
		simStepMultiplier: defaultSimMultiplier,
		lastStatsLog:      time.Now(),
	}
	if *imageFlag != "" {
		img, err := loadImage(*imageFlag)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		g.pending = sim.ImageDisturbances(img, g.rows, g.cols, imageStride, cfg.Wave.DisturbMax)
		slog.Info("Image stamped", "path", *imageFlag, "disturbances", len(g.pending))
	}
	return g, nil
}

// loadImage decodes a PNG or JPEG file.
func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// saveSnapshot writes the latest presented frame as a PNG named after the
// current tick.
func (g *Game) saveSnapshot() {
	img := g.sim.Image()
	if img == nil {
		return
	}
	path := fmt.Sprintf("wavedemo-%06d.png", g.sim.Ticks())
	f, err := os.Create(path)
	if err != nil {
		slog.Warn("Snapshot failed", "err", err)
		return
	}
	err = png.Encode(f, img)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		slog.Warn("Snapshot failed", "path", path, "err", err)
		return
	}
	slog.Info("Snapshot saved", "path", path)
}

// Update moves the emitter, queues its footsteps and random drops, and
// advances the simulation by one frame.
func (g *Game) Update() error {
	dRow, dCol := g.walkerMove()
	g.pending = g.walker.Move(g.pending, dRow, dCol)

	g.handleDebugControls()
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		g.saveSnapshot()
	}

	simTime := g.frameDt * float32(g.simStepMultiplier)
	g.disturber.Advance(simTime, g.rows, g.cols, func(i, j int, m float32) {
		g.pending = append(g.pending, sim.Disturbance{I: i, J: j, M: m})
	})

	start := time.Now()
	if err := g.sim.Frame(context.Background(), g.frameDt, g.simStepMultiplier, g.pending); err != nil {
		return err
	}
	g.pending = g.pending[:0]
	g.lastSimDuration = time.Since(start)
	g.logStats()

	if g.stopProfile != nil && g.wander == nil {
		g.stopProfile()
		g.stopProfile = nil
		slog.Info("Profile written", "path", defaultPGOPath)
		return ebiten.Termination
	}
	return nil
}

// logStats reports the tick rate at debug level every statsLogInterval.
func (g *Game) logStats() {
	now := time.Now()
	elapsed := now.Sub(g.lastStatsLog)
	if elapsed < statsLogInterval {
		return
	}
	ticks := g.sim.Ticks()
	slog.Debug("Simulation stats",
		"ticks", ticks,
		"tick_rate", float64(ticks-g.lastStatsTicks)/elapsed.Seconds(),
		"frame_ms", g.lastSimDuration.Seconds()*1000,
		"multiplier", g.simStepMultiplier)
	g.lastStatsLog = now
	g.lastStatsTicks = ticks
}

// Close stops a running profile and shuts the simulator down.
func (g *Game) Close() error {
	if g.stopProfile != nil {
		g.stopProfile()
		g.stopProfile = nil
	}
	return g.sim.Close()
}

// Command wavedemo shows a damped wave field in a window. WASD moves an
// emitter that disturbs the surface while it walks; random drops keep the
// field busy. The field is solved on the CPU, on a software device, on a
// Vulkan device or with OpenCL, and can be shown through a blur or edge
// filter. P saves the current frame as a PNG.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime/pprof"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/distortions81/stencilgpu/internal/config"
	"github.com/distortions81/stencilgpu/internal/gpu"
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *debugFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	gpu.SetLogger(logger)

	cfg := config.Default()
	if *configFlag != "" {
		var err error
		if cfg, err = config.Load(*configFlag); err != nil {
			log.Fatalf("Loading config failed: %v", err)
		}
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *dumpConfigFlag {
		if err := cfg.Encode(os.Stdout); err != nil {
			log.Fatalf("Writing config failed: %v", err)
		}
		return
	}

	g, err := newGame(cfg)
	if err != nil {
		log.Fatalf("Simulator initialization failed: %v", err)
	}
	if *recordDefaultPGO {
		stop, err := cpuProfile(defaultPGOPath)
		if err != nil {
			_ = g.Close()
			log.Fatalf("PGO recording failed: %v", err)
		}
		g.stopProfile = stop
		g.wanderFor(pgoRecordDuration)
		slog.Info("Recording profile", "path", defaultPGOPath, "duration", pgoRecordDuration)
	}

	ebiten.SetWindowSize(cfg.Wave.Cols*windowScale, cfg.Wave.Rows*windowScale)
	ebiten.SetWindowTitle("Wave Field")
	ebiten.SetTPS(defaultTPS)
	runErr := ebiten.RunGame(g)
	if err := g.Close(); err != nil {
		slog.Warn("Shutdown incomplete", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, ebiten.Termination) {
		log.Fatalf("Game loop failed: %v", runErr)
	}
}

// cpuProfile writes a CPU profile to path until the returned function is
// called. Game.Update stops it when the random walk ends, and Game.Close
// when the window closes first, so stop tolerates a second call.
func cpuProfile(path string) (stop func(), err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("starting CPU profile: %w", err)
	}
	return sync.OnceFunc(func() {
		pprof.StopCPUProfile()
		if err := f.Close(); err != nil {
			slog.Warn("Closing profile failed", "path", path, "err", err)
		}
	}), nil
}

package main

import (
	"flag"

	"github.com/distortions81/stencilgpu/internal/config"
)

// Command-line flags. Flags that mirror a config field override the value
// loaded from -config only when given explicitly.
var (
	// configFlag names a TOML file laid over the built-in defaults.
	configFlag = flag.String("config", "", "TOML config file laid over the defaults")

	// backendFlag selects where the wave field is solved.
	backendFlag = flag.String("backend", config.BackendCPU, "solver backend: cpu, soft, wgpu or opencl")

	// filterFlag selects the overlay filter applied to the shaded field.
	filterFlag = flag.String("filter", config.FilterNone, "overlay filter: none, blur or edge")

	// workersFlag bounds solver and software device goroutines.
	workersFlag = flag.Int("workers", 0, "worker goroutines (0 uses GOMAXPROCS)")

	// frameSlotsFlag sets how many frames may be in flight.
	frameSlotsFlag = flag.Int("frame-slots", 3, "frames the CPU may run ahead of the device")

	// fenceTimeoutFlag bounds waits for a frame slot.
	fenceTimeoutFlag = flag.Duration("fence-timeout", 0, "give up waiting for a frame slot after this long (0 waits forever)")

	seedFlag = flag.Uint64("seed", 1, "seed of the random disturbances and the scripted walk")

	// debugFlag enables the FPS and simulation overlay and debug logging.
	debugFlag = flag.Bool("debug", false, "show FPS and simulation overlay and log at debug level")

	// recordDefaultPGO triggers a scripted walk to produce default.pgo.
	recordDefaultPGO = flag.Bool("record-default-pgo", false, "walk randomly for 15s while capturing default.pgo, then exit")

	// imageFlag names a picture whose bright areas disturb the field at start.
	imageFlag = flag.String("image", "", "PNG or JPEG stamped onto the field at start")

	// dumpConfigFlag prints the effective configuration as TOML and exits.
	dumpConfigFlag = flag.Bool("dump-config", false, "print the effective configuration and exit")
)

// applyFlags overlays the explicitly set flags onto cfg.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backendFlag
		case "filter":
			cfg.Filter = *filterFlag
		case "workers":
			cfg.Workers = *workersFlag
		case "frame-slots":
			cfg.FrameSlots = *frameSlotsFlag
		case "fence-timeout":
			cfg.FenceTimeout = config.Duration(*fenceTimeoutFlag)
		case "seed":
			cfg.Seed = *seedFlag
		}
	})
}

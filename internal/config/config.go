// Package config holds every tunable of the wave demo: grid and physics,
// backend selection, frame pacing and filter settings. Values come from
// Default, optionally overlaid by a TOML file and then by flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/distortions81/stencilgpu/internal/filter"
	"github.com/distortions81/stencilgpu/internal/wave"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Backends.
const (
	BackendCPU    = "cpu"
	BackendSoft   = "soft"
	BackendWGPU   = "wgpu"
	BackendOpenCL = "opencl"
)

// Filters applied to the rendered field.
const (
	FilterNone = "none"
	FilterBlur = "blur"
	FilterEdge = "edge"
)

// Duration is a time.Duration written as a string such as "250ms".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Wave is the simulated grid.
type Wave struct {
	Rows        int     `toml:"rows"`
	Cols        int     `toml:"cols"`
	SpatialStep float32 `toml:"spatial_step"`
	TimeStep    float32 `toml:"time_step"`
	Speed       float32 `toml:"speed"`
	Damping     float32 `toml:"damping"`

	// Random disturbances, in seconds of simulation time.
	DisturbInterval float32 `toml:"disturb_interval"`
	DisturbMin      float32 `toml:"disturb_min"`
	DisturbMax      float32 `toml:"disturb_max"`
}

// Blur configures the Gaussian filter.
type Blur struct {
	Sigma      float32 `toml:"sigma"`
	Iterations int     `toml:"iterations"`
}

// Config is the full demo configuration.
type Config struct {
	Backend      string   `toml:"backend"`
	Workers      int      `toml:"workers"`
	FrameSlots   int      `toml:"frame_slots"`
	FenceTimeout Duration `toml:"fence_timeout"`
	Filter       string   `toml:"filter"`
	Seed         uint64   `toml:"seed"`
	Wave         Wave     `toml:"wave"`
	Blur         Blur     `toml:"blur"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := wave.DefaultParams()
	return Config{
		Backend:    BackendCPU,
		FrameSlots: 3,
		Filter:     FilterNone,
		Seed:       1,
		Wave: Wave{
			Rows:            p.Rows,
			Cols:            p.Cols,
			SpatialStep:     p.SpatialStep,
			TimeStep:        p.TimeStep,
			Speed:           p.Speed,
			Damping:         p.Damping,
			DisturbInterval: 0.25,
			DisturbMin:      0.2,
			DisturbMax:      0.5,
		},
		Blur: Blur{Sigma: filter.DefaultSigma, Iterations: filter.DefaultIterations},
	}
}

// Load reads a TOML file over Default and validates the result.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over Default. Unknown keys are an error.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("%w: %s", ErrInvalid, strict.String())
		}
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// WaveParams returns the solver parameters.
func (c Config) WaveParams() wave.Params {
	return wave.Params{
		Rows:        c.Wave.Rows,
		Cols:        c.Wave.Cols,
		SpatialStep: c.Wave.SpatialStep,
		TimeStep:    c.Wave.TimeStep,
		Speed:       c.Wave.Speed,
		Damping:     c.Wave.Damping,
	}
}

// Timeout returns the fence timeout; zero waits forever.
func (c Config) Timeout() time.Duration { return time.Duration(c.FenceTimeout) }

// Validate checks every field.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendCPU, BackendSoft, BackendWGPU, BackendOpenCL:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	switch c.Filter {
	case FilterNone, FilterBlur, FilterEdge:
	default:
		errs = append(errs, fmt.Errorf("unknown filter %q", c.Filter))
	}
	if c.FrameSlots < 1 {
		errs = append(errs, fmt.Errorf("frame_slots %d must be at least 1", c.FrameSlots))
	}
	if c.FenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("fence_timeout %v is negative", time.Duration(c.FenceTimeout)))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers %d is negative", c.Workers))
	}
	if err := c.WaveParams().Validate(); err != nil {
		errs = append(errs, err)
	}
	if !(c.Wave.DisturbInterval > 0) || isInf(c.Wave.DisturbInterval) {
		errs = append(errs, fmt.Errorf("disturb_interval %g must be positive", c.Wave.DisturbInterval))
	}
	if !finite(c.Wave.DisturbMin) || !finite(c.Wave.DisturbMax) {
		errs = append(errs, fmt.Errorf("disturb_min %g and disturb_max %g must be finite", c.Wave.DisturbMin, c.Wave.DisturbMax))
	} else if c.Wave.DisturbMin > c.Wave.DisturbMax {
		errs = append(errs, fmt.Errorf("disturb_min %g exceeds disturb_max %g", c.Wave.DisturbMin, c.Wave.DisturbMax))
	}
	if !finite(c.Blur.Sigma) {
		errs = append(errs, fmt.Errorf("blur sigma %g must be finite", c.Blur.Sigma))
	} else if r := filter.BlurRadius(c.Blur.Sigma); r > filter.MaxBlurRadius {
		errs = append(errs, fmt.Errorf("blur sigma %g needs radius %d, limit is %d", c.Blur.Sigma, r, filter.MaxBlurRadius))
	}
	if c.Blur.Iterations < 0 {
		errs = append(errs, fmt.Errorf("blur iterations %d is negative", c.Blur.Iterations))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func isInf(v float32) bool { return math.IsInf(float64(v), 0) }

func finite(v float32) bool { return !math.IsNaN(float64(v)) && !isInf(v) }

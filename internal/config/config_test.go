package config

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distortions81/stencilgpu/internal/wave"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.FrameSlots)
	assert.Zero(t, cfg.Timeout())
	assert.Equal(t, wave.DefaultParams(), cfg.WaveParams())
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
backend = "soft"
fence_timeout = "250ms"
filter = "edge"

[wave]
rows = 64
cols = 96

[blur]
iterations = 2
`))
	require.NoError(t, err)
	assert.Equal(t, BackendSoft, cfg.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout())
	assert.Equal(t, FilterEdge, cfg.Filter)
	assert.Equal(t, 64, cfg.Wave.Rows)
	assert.Equal(t, 96, cfg.Wave.Cols)
	assert.Equal(t, float32(4), cfg.Wave.Speed, "unset keys keep defaults")
	assert.Equal(t, 2, cfg.Blur.Iterations)
	assert.Equal(t, float32(2.5), cfg.Blur.Sigma)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("backend = \"cpu\"\nwalls = 25\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "walls")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"backend", func(c *Config) { c.Backend = "metal" }, "unknown backend"},
		{"filter", func(c *Config) { c.Filter = "sharpen" }, "unknown filter"},
		{"slots", func(c *Config) { c.FrameSlots = 0 }, "frame_slots"},
		{"timeout", func(c *Config) { c.FenceTimeout = Duration(-time.Second) }, "fence_timeout"},
		{"unstable", func(c *Config) { c.Wave.Speed = 100 }, "unstable"},
		{"tiny grid", func(c *Config) { c.Wave.Rows = 3 }, "smaller than 5x5"},
		{"disturb range", func(c *Config) { c.Wave.DisturbMin = 1 }, "disturb_min"},
		{"sigma", func(c *Config) { c.Blur.Sigma = 3 }, "radius 6"},
		{"nan speed", func(c *Config) { c.Wave.Speed = float32(math.NaN()) }, "positive and finite"},
		{"inf speed", func(c *Config) { c.Wave.Speed = float32(math.Inf(1)) }, "positive and finite"},
		{"nan damping", func(c *Config) { c.Wave.Damping = float32(math.NaN()) }, "damping"},
		{"nan interval", func(c *Config) { c.Wave.DisturbInterval = float32(math.NaN()) }, "disturb_interval"},
		{"inf interval", func(c *Config) { c.Wave.DisturbInterval = float32(math.Inf(1)) }, "disturb_interval"},
		{"nan disturb", func(c *Config) { c.Wave.DisturbMax = float32(math.NaN()) }, "must be finite"},
		{"nan sigma", func(c *Config) { c.Blur.Sigma = float32(math.NaN()) }, "sigma NaN must be finite"},
		{"inf sigma", func(c *Config) { c.Blur.Sigma = float32(math.Inf(1)) }, "sigma +Inf must be finite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseRejectsNonFinite(t *testing.T) {
	for _, doc := range []string{
		"[wave]\nspeed = nan\n",
		"[wave]\ndamping = -inf\n",
		"[blur]\nsigma = nan\n",
		"[blur]\nsigma = -inf\n",
	} {
		_, err := Parse(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrInvalid, doc)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Backend = BackendWGPU
	cfg.FenceTimeout = Duration(2 * time.Second)
	var buf bytes.Buffer
	require.NoError(t, cfg.Encode(&buf))
	assert.Contains(t, buf.String(), "fence_timeout")
	assert.Contains(t, buf.String(), "2s")

	path := filepath.Join(t.TempDir(), "wave.toml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

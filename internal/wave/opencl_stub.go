//go:build !opencl

package wave

import "errors"

// ErrOpenCLDisabled is returned by NewCLSolver in builds without the
// opencl tag.
var ErrOpenCLDisabled = errors.New("wave: OpenCL support is not enabled; rebuild with -tags opencl")

// CLSolver is unavailable without the opencl build tag.
type CLSolver struct{}

// NewCLSolver always fails in this build.
func NewCLSolver(Params) (*CLSolver, error) { return nil, ErrOpenCLDisabled }

func (s *CLSolver) DeviceName() string { return "" }
func (s *CLSolver) Params() Params { return Params{} }
func (s *CLSolver) Ticks() uint64 { return 0 }
func (s *CLSolver) Disturb(int, int, float32) error { return ErrOpenCLDisabled }
func (s *CLSolver) Update(float32) (bool, error) { return false, ErrOpenCLDisabled }
func (s *CLSolver) Step() error { return ErrOpenCLDisabled }
func (s *CLSolver) ReadHeights([]float32) error { return ErrOpenCLDisabled }
func (s *CLSolver) Close() {}

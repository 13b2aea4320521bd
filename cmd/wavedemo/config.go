package main

import "time"

// Window, input and pacing constants of the demo. Simulation tunables live
// in internal/config and can be changed without rebuilding.
const (
	windowScale          = 4
	emitterRad           = 2
	moveSpeed            = 0.6
	stepDelay            = 60 / 4
	stepImpulseStrength  = 0.25
	defaultTPS           = 60
	defaultSimMultiplier = 2
	simMultiplierStep    = 1
	minSimMultiplier     = 1
	maxSimMultiplier     = 32
	statsLogInterval     = 5 * time.Second
	pgoRecordDuration    = 15 * time.Second
	defaultPGOPath       = "default.pgo"
	imageStride          = 3
)

package wave

// Clock runs a fixed-rate simulation from variable frame times.
type Clock struct {
	Step  float32
	accum float32
}

// Advance adds dt and reports whether a tick is due. When it is, the
// accumulated time is reset to zero, so at most one tick runs per call.
func (c *Clock) Advance(dt float32) bool {
	c.accum += dt
	if c.accum >= c.Step {
		c.accum = 0
		return true
	}
	return false
}

// Pending returns the time accumulated toward the next tick.
func (c *Clock) Pending() float32 { return c.accum }

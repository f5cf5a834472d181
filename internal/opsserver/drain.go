package opsserver

import "sync/atomic"

var draining atomic.Bool

// SetDraining flips the /health readiness flag; main sets it true once
// shutdown has begun (a signal arrived or the pipeline returned), so
// /health reports draining while the ops server shuts down.
func SetDraining(on bool) { draining.Store(on) }

// IsDraining reports the current readiness flag.
func IsDraining() bool { return draining.Load() }

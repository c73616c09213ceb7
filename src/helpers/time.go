// Package helpers holds the small, intentionally under-engineered
// collaborators the specification calls out by name: the clock and a
// trivial path join. Neither needs more than a few lines.
package helpers

import "time"

// NowUTCMillis is a package-level var, not a plain function, so tests can
// pin the clock without an injected dependency threaded through every
// constructor — the same trick the original's nowUtcMs() didn't need
// because its tests ran against real device time.
var NowUTCMillis = func() int64 {
	return time.Now().UnixMilli()
}

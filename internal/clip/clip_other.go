//go:build !darwin && !windows && !linux

package clip

// New returns a no-op backend; there is no native clipboard support on this
// platform.
func New() Backend {
	return newHeadless()
}

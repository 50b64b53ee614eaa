package hostfuncs

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// Clock provides the time and randomness visible to guest code. Production
// uses the system clock and a CSPRNG; tests may substitute fixed values to
// make node logic reproducible. That substitution is a sanctioned test
// double, not a production mode.
type Clock interface {
	// Now returns milliseconds since the Unix epoch.
	Now() int64
	// Random returns a uniform value in [0, 1).
	Random() float64
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

func (SystemClock) Random() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is unrecoverable on supported platforms; fall
		// back to the clock rather than returning a constant.
		return float64(time.Now().UnixNano()%1e9) / 1e9
	}
	// 53 bits of entropy, matching float64 precision.
	v := binary.BigEndian.Uint64(buf[:]) >> 11
	return float64(v) / (1 << 53)
}

// FixedClock returns constant values; two invocations with identical inputs
// under a FixedClock produce byte-identical results.
type FixedClock struct {
	Time int64
	Rand float64
}

func (c FixedClock) Now() int64      { return c.Time }
func (c FixedClock) Random() float64 { return c.Rand }

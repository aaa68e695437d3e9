// Package timestamp fixes the canonical time representation for the
// system: int64 milliseconds since the Unix epoch, UTC. Sparkplug
// payload stamps, history rows, alarm bookkeeping, and GraphQL
// arguments all use it, so conversions to and from time.Time happen
// only at the storage boundary.
//
// Zero is "not set". Conversions map 0 and the zero time.Time onto
// each other so optional timestamps survive a round trip.
package timestamp

import "time"

// Stamps below this are epoch seconds, not milliseconds.
const secondsCutoff = 1_000_000_000_000

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Normalize converts a wire timestamp to Unix milliseconds. Values
// below 1e12 are epoch seconds and scale by 1000; larger values pass
// through, including those past 2^53. Zero stays zero ("not set").
func Normalize(ts int64) int64 {
	if ts != 0 && ts < secondsCutoff {
		return ts * 1000
	}
	return ts
}

// ToUnixMs converts t to Unix milliseconds, mapping the zero time to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to a time.Time, mapping 0 to
// the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

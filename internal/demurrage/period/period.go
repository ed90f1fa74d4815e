// Package period converts between wall-clock timestamps and demurrage
// periods. A period is a fixed-duration bucket counted from genesis; the
// decay rate is constant within a period.
package period

import (
	"fmt"
	"time"
)

// Converter maps timestamps to periods and back. Genesis and duration are
// fixed at construction and never change afterwards.
type Converter struct {
	genesis  int64 // unix seconds
	duration int64 // seconds per period
}

// NewConverter builds a converter. The duration must be a positive whole
// number of seconds.
func NewConverter(genesis time.Time, duration time.Duration) (Converter, error) {
	secs := int64(duration / time.Second)
	if secs <= 0 || duration%time.Second != 0 {
		return Converter{}, fmt.Errorf("period duration must be a positive whole number of seconds, got %s", duration)
	}
	if genesis.IsZero() {
		return Converter{}, fmt.Errorf("genesis timestamp is required")
	}
	return Converter{genesis: genesis.Unix(), duration: secs}, nil
}

// At returns the period containing t. Timestamps before genesis map to
// period 0; genesis itself is the first second of period 0.
func (c Converter) At(t time.Time) uint64 {
	return c.Of(t.Unix())
}

// Of returns the period containing the unix timestamp ts.
func (c Converter) Of(ts int64) uint64 {
	if ts <= c.genesis {
		return 0
	}
	return uint64(ts-c.genesis) / uint64(c.duration)
}

// StartTime returns the first instant of period p.
func (c Converter) StartTime(p uint64) time.Time {
	return time.Unix(c.genesis+int64(p)*c.duration, 0).UTC()
}

// Genesis returns the genesis timestamp.
func (c Converter) Genesis() time.Time {
	return time.Unix(c.genesis, 0).UTC()
}

// Duration returns the length of one period.
func (c Converter) Duration() time.Duration {
	return time.Duration(c.duration) * time.Second
}

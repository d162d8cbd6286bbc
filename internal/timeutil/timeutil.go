// Package timeutil converts between wall-clock time and the integer
// epoch units used on the wire, and resolves "day index" for end-of-day
// rollover detection, per spec.md Component A.
package timeutil

import (
	"fmt"
	"time"
)

// EpochUnit names the resolution of an integer unix timestamp.
type EpochUnit string

const (
	Seconds      EpochUnit = "s"
	Milliseconds EpochUnit = "ms"
	Microseconds EpochUnit = "us"
)

// ToTime converts an integer epoch value in the given unit to an
// absolute time.Time in loc.
func ToTime(epoch int64, unit EpochUnit, loc *time.Location) (time.Time, error) {
	var t time.Time
	switch unit {
	case Seconds:
		t = time.Unix(epoch, 0)
	case Milliseconds:
		t = time.UnixMilli(epoch)
	case Microseconds:
		t = time.UnixMicro(epoch)
	default:
		return time.Time{}, fmt.Errorf("timeutil: unknown epoch unit %q", unit)
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t, nil
}

// FromTime converts an absolute time.Time to an integer epoch in the
// given unit, the inverse of ToTime.
func FromTime(t time.Time, unit EpochUnit) (int64, error) {
	switch unit {
	case Seconds:
		return t.Unix(), nil
	case Milliseconds:
		return t.UnixMilli(), nil
	case Microseconds:
		return t.UnixMicro(), nil
	default:
		return 0, fmt.Errorf("timeutil: unknown epoch unit %q", unit)
	}
}

// LoadLocation is a thin wrapper over time.LoadLocation kept here so
// every caller resolves timezones through one seam.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// DayIndex returns a monotonically increasing integer identifying the
// calendar day of t within loc, matching spec.md's
// "toEpoch(timestamp, days, timezone)" day-index language: the number
// of days since the Unix epoch, in loc.
func DayIndex(t time.Time, loc *time.Location) int64 {
	local := t.In(loc)
	y, m, d := local.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return midnight.Unix() / 86400
}

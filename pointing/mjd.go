package pointing

import (
	"math"
	"time"
)

const (
	// unixEpochMJD is the Modified Julian Day of 1970-01-01.
	unixEpochMJD  = 40587
	secondsPerDay = 86400
)

// MJD returns t as a Modified Julian Day.
func MJD(t time.Time) float64 {
	return float64(t.UnixNano())/1e9/secondsPerDay + unixEpochMJD
}

// Time converts a Modified Julian Day to a time.
func Time(mjd float64) time.Time {
	days := mjd - unixEpochMJD
	sec, frac := math.Modf(days * secondsPerDay)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

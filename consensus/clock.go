package consensus

import "time"

// SystemClock is the production TimeSource: the local wall clock expressed
// in milliseconds.
type SystemClock struct{}

// CorrectedTimeMs returns time.Now() in milliseconds. Despite the name it
// applies no NTP-style correction; "corrected" documents the intent the
// interface exists for, which future work can satisfy with a peer-median
// clock without touching any consumer of TimeSource.
func (SystemClock) CorrectedTimeMs() int64 {
	return time.Now().UnixMilli()
}

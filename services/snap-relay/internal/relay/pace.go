package relay

import "time"

// Pace returns how long to sleep after a round so sustained consumption stays at or below
// recordsPerSecond: max(0, batchSize/recordsPerSecond - elapsed). A non-positive size or
// rate disables pacing.
func Pace(batchSize int, recordsPerSecond float64, elapsed time.Duration) time.Duration {
	if batchSize <= 0 || recordsPerSecond <= 0 {
		return 0
	}
	perBatch := time.Duration(float64(batchSize) * float64(time.Second) / recordsPerSecond)
	if elapsed >= perBatch {
		return 0
	}
	return perBatch - elapsed
}

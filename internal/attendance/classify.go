package attendance

import "time"

const (
	// GracePeriod is the last offset from the actual start still PRESENT.
	GracePeriod = 15 * time.Minute
	// AbsentThreshold is the first offset classified ABSENT.
	AbsentThreshold = 45 * time.Minute

	// checkInEarlyAllowance is how early an instructor may check in when
	// the strict window is enforced.
	checkInEarlyAllowance = 30 * time.Minute
)

// Classify maps an arrival to PRESENT, LATE or ABSENT relative to the
// session's actual start. Arrivals before the start are PRESENT.
func Classify(actualStart, arrival time.Time) Status {
	delta := arrival.Sub(actualStart)
	switch {
	case delta <= GracePeriod:
		return StatusPresent
	case delta < AbsentThreshold:
		return StatusLate
	default:
		return StatusAbsent
	}
}

// WithinCheckInWindow reports whether at falls in the window an instructor
// may open a session: from 30 minutes before the scheduled start up to the
// scheduled end. Only consulted when strict check-in is enabled.
func WithinCheckInWindow(scheduledStart, scheduledEnd, at time.Time) bool {
	if at.Before(scheduledStart.Add(-checkInEarlyAllowance)) {
		return false
	}
	return !at.After(scheduledEnd)
}

// acceptClientTime returns client when it lies within ClockSkewTolerance of
// server, otherwise server.
func acceptClientTime(client *time.Time, server time.Time) time.Time {
	if client == nil || client.IsZero() {
		return server
	}
	skew := client.Sub(server)
	if skew < 0 {
		skew = -skew
	}
	if skew > ClockSkewTolerance {
		return server
	}
	return client.In(server.Location())
}

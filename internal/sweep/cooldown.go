package sweep

import (
	"time"

	"arrsweep/internal/state"
)

// GateOpen reports whether a lane may run now. Open when no cooldown is
// configured (zero never gates), when the lane has never run, or when the
// configured duration has elapsed since the last actioned run.
func GateOpen(cd state.Cooldown, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 {
		return true
	}
	if cd.LastRunAt.IsZero() {
		return true
	}
	return now.Sub(cd.LastRunAt) >= cooldown
}

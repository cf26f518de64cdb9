package game

import (
	"math"
	"time"
)

type Phase string

const (
	PhaseWaiting Phase = "WAITING"
	PhaseFlying  Phase = "FLYING"
	PhaseCrashed Phase = "CRASHED"
)

// Round is the single current round owned by the Manager loop. The
// server seed stays private until the round has crashed; RevealedSeed
// is only populated at that point.
type Round struct {
	RoundID           int64     `json:"round_id"`
	Phase             Phase     `json:"phase"`
	Commitment        string    `json:"commitment"`
	Seed              string    `json:"-"`
	CrashPoint        float64   `json:"-"`
	CurrentMultiplier float64   `json:"current_multiplier"`
	Countdown         float64   `json:"countdown"`
	StartedAt         time.Time `json:"started_at"`
	CrashedAt         time.Time `json:"crashed_at,omitempty"`
	RevealedSeed      string    `json:"server_seed,omitempty"`
}

// Curve coefficients for the flight multiplier. m(t) = 1 + t/b + a*t^2
// is continuous and strictly increasing, so every observer computing it
// from the same elapsed time converges on the same value.
const (
	curveQuad   = 0.005
	curveLinDiv = 1.5
)

// MultiplierAt computes the flight multiplier for an elapsed number of
// seconds, truncated to two decimals.
func MultiplierAt(elapsed float64) float64 {
	if elapsed <= 0 {
		return MIN_MULTIPLIER
	}
	mult := 1.0 + elapsed/curveLinDiv + curveQuad*elapsed*elapsed
	return math.Floor(mult*100) / 100
}

// FlightDuration inverts the multiplier curve for a crash point, fixing
// the crash instant once at takeoff. Solves a*t^2 + t/b + (1-m) = 0 for
// the positive root.
func FlightDuration(crashPoint float64) time.Duration {
	if crashPoint <= MIN_MULTIPLIER {
		return 0
	}
	a := curveQuad
	b := 1.0 / curveLinDiv
	c := 1.0 - crashPoint
	t := (-b + math.Sqrt(b*b-4*a*c)) / (2 * a)
	return time.Duration(t * float64(time.Second))
}

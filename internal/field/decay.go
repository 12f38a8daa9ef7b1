package field

import "math"

// Decay returns value after elapsed ticks of exponential decay with the given
// half-life. Negative elapsed time is clamped to zero, and a half-life of zero
// or less means the quantity does not decay.
//
// Both the lazy read path and the settle-on-write path go through Decay, so a
// read at tick t and a settle to tick t always agree.
func Decay(value float64, elapsed int64, halfLife float64) float64 {
	if elapsed <= 0 || halfLife <= 0 {
		return value
	}
	return value * math.Pow(0.5, float64(elapsed)/halfLife)
}

// HalfLifeFromRate converts a per-tick retention factor (value *= rate each
// tick) into the equivalent half-life in ticks. Rates outside (0, 1) do not
// decay and map to 0.
func HalfLifeFromRate(rate float64) float64 {
	if rate <= 0 || rate >= 1 {
		return 0
	}
	return math.Log(0.5) / math.Log(rate)
}

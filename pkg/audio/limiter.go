package audio

import "math"

const (
	// LimiterCeilingDB is the level the safe mix limiter converges to.
	LimiterCeilingDB = -1.0

	// LimiterKnee is the linear magnitude where limiting starts. Samples at
	// or below it pass unchanged.
	LimiterKnee = 0.75
)

var limiterCeiling = DBToLinear(LimiterCeilingDB)

// SoftLimit applies the safe mix limiter to samples in place.
//
// Magnitudes above [LimiterKnee] are compressed with a tanh curve that meets
// the identity with matching slope at the knee and approaches the
// [LimiterCeilingDB] ceiling asymptotically, so the output never reaches full
// scale. The curve is memoryless: each call depends only on its input block.
func SoftLimit(samples []float32) {
	span := limiterCeiling - LimiterKnee
	for i, s := range samples {
		a := math.Abs(float64(s))
		if a <= LimiterKnee {
			continue
		}
		y := LimiterKnee + span*math.Tanh((a-LimiterKnee)/span)
		samples[i] = float32(math.Copysign(y, float64(s)))
	}
}

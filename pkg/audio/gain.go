package audio

// Role identifies which capture source an audio track came from.
type Role int

const (
	RoleUnknown Role = iota
	RoleMicrophone
	RoleSystem
)

// String returns the human-readable name of the role.
func (r Role) String() string {
	switch r {
	case RoleMicrophone:
		return "microphone"
	case RoleSystem:
		return "system"
	default:
		return "unknown"
	}
}

// MixConfig holds the per-source gain used when building the master track and
// when rewriting each source's own track. The zero value applies no gain and
// disables the limiter.
type MixConfig struct {
	// MicrophoneGainDB is applied to the microphone source.
	MicrophoneGainDB float64 `yaml:"microphone_gain_db"`

	// SystemGainDB is applied to the system audio source.
	SystemGainDB float64 `yaml:"system_gain_db"`

	// SafeMixLimiter soft-limits the summed master so it stays below full
	// scale. When false the raw sum is written, clipping included.
	SafeMixLimiter bool `yaml:"safe_mix_limiter"`
}

// GainDB returns the configured gain for role. Unknown roles get 0 dB.
func (c MixConfig) GainDB(role Role) float64 {
	switch role {
	case RoleMicrophone:
		return c.MicrophoneGainDB
	case RoleSystem:
		return c.SystemGainDB
	default:
		return 0
	}
}

// GainLinear returns 10^(GainDB(role)/20).
func (c MixConfig) GainLinear(role Role) float64 {
	return DBToLinear(c.GainDB(role))
}

// ApplyGain scales samples in place.
func ApplyGain(samples []float32, gain float64) {
	if gain == 1 {
		return
	}
	g := float32(gain)
	for i := range samples {
		samples[i] *= g
	}
}

// Accumulate adds gain·src into dst sample by sample. Only the overlapping
// prefix is mixed.
func Accumulate(dst, src []float32, gain float64) {
	g := float32(gain)
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] += g * src[i]
	}
}

package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/capa/pkg/media"
)

// Converter brings decoded sample blocks to a target rate and channel count.
// It logs a warning on the first format mismatch. Create one per source; it is
// not designed for shared use across goroutines.
type Converter struct {
	// Target is the format all blocks are converted to. Only SampleRate and
	// Channels are used.
	Target media.Format

	warnedMismatch sync.Once
}

// Convert converts samples in format from to the target format. If the
// formats already match, samples is returned unchanged.
// Conversion order: resample first, then channel convert.
func (c *Converter) Convert(samples []float32, from media.Format) []float32 {
	if from.SampleRate == c.Target.SampleRate && from.Channels == c.Target.Channels {
		return samples
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(from.SampleRate, from.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	out := samples
	if from.SampleRate != c.Target.SampleRate {
		out = Resample(out, from.Channels, from.SampleRate, c.Target.SampleRate)
	}
	if from.Channels != c.Target.Channels {
		out = Remix(out, from.Channels, c.Target.Channels)
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(samples []float32) []float32 {
	out := make([]float32, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages L+R per stereo frame.
func StereoToMono(samples []float32) []float32 {
	frames := len(samples) / 2
	out := make([]float32, frames)
	for i := range frames {
		out[i] = (samples[i*2] + samples[i*2+1]) / 2
	}
	return out
}

// Remix converts interleaved samples between channel counts. Mono is fanned
// out to every channel, anything to mono is averaged, and other layouts map
// output channel c to input channel c mod from.
func Remix(samples []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || from == to {
		return samples
	}
	switch {
	case from == 1 && to == 2:
		return MonoToStereo(samples)
	case from == 2 && to == 1:
		return StereoToMono(samples)
	}

	frames := len(samples) / from
	out := make([]float32, frames*to)
	for f := range frames {
		in := samples[f*from : (f+1)*from]
		if to == 1 {
			var sum float32
			for _, s := range in {
				sum += s
			}
			out[f] = sum / float32(from)
			continue
		}
		for c := range to {
			out[f*to+c] = in[c%from]
		}
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate using linear
// interpolation per channel. If the rates match, samples is returned
// unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < channels {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for c := range channels {
			s0 := samples[srcIdx*channels+c]
			s1 := samples[next*channels+c]
			out[i*channels+c] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

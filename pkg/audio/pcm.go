// Package audio implements the sample-level audio processing used while
// rewriting recordings: PCM decoding, peak metering, per-source gain, the safe
// mix limiter, channel/rate conversion, and live meter smoothing.
//
// All processing happens on interleaved float32 samples in the range [-1, 1].
// [Decode] and [Encode] translate between that representation and the byte
// layouts a [media.Format] can describe.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/capa/pkg/media"
)

var (
	// ErrNoPCM is returned when a block carries no decodable PCM (empty or
	// truncated data).
	ErrNoPCM = errors.New("audio: no decodable PCM")

	// ErrUnsupportedEncoding is returned for sample encodings other than
	// 32-bit float and 16-bit signed integer.
	ErrUnsupportedEncoding = errors.New("audio: unsupported sample encoding")
)

// int16Scale is the full-scale magnitude of 16-bit signed PCM.
const int16Scale = 32768

// Decode converts interleaved little-endian PCM to float32 samples.
func Decode(data []byte, enc media.Encoding) ([]float32, error) {
	size := enc.BytesPerSample()
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
	if len(data) == 0 {
		return nil, ErrNoPCM
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrNoPCM, len(data), size)
	}

	out := make([]float32, len(data)/size)
	switch enc {
	case media.EncodingFloat32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	case media.EncodingInt16:
		for i := range out {
			out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / int16Scale
		}
	}
	return out, nil
}

// Encode converts float32 samples to interleaved little-endian PCM. Integer
// encodings are clamped to their representable range.
func Encode(samples []float32, enc media.Encoding) ([]byte, error) {
	switch enc {
	case media.EncodingFloat32:
		out := make([]byte, len(samples)*4)
		for i, s := range samples {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
		}
		return out, nil
	case media.EncodingInt16:
		out := make([]byte, len(samples)*2)
		for i, s := range samples {
			v := math.Round(float64(s) * int16Scale)
			if v > math.MaxInt16 {
				v = math.MaxInt16
			} else if v < math.MinInt16 {
				v = math.MinInt16
			}
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
}

package audio

import (
	"math"

	"github.com/MrWong99/capa/pkg/media"
)

const (
	// silenceFloor keeps the dB conversion finite on digital silence
	// (20·log10(1e-9) = -180 dBFS).
	silenceFloor = 1e-9

	// clipTolerance absorbs float rounding when comparing against full scale.
	clipTolerance = 1e-6
)

// Peak is the instantaneous peak level of one block of samples.
type Peak struct {
	// DB is the peak in dBFS; 0 is full scale.
	DB float64

	// Clipped is true when the block reaches full scale.
	Clipped bool
}

// MeasurePeak computes the peak level of an interleaved PCM block.
// It returns [ErrNoPCM] for empty or truncated data and
// [ErrUnsupportedEncoding] for encodings other than float32 and int16.
func MeasurePeak(data []byte, enc media.Encoding) (Peak, error) {
	samples, err := Decode(data, enc)
	if err != nil {
		return Peak{}, err
	}
	return PeakOf(samples), nil
}

// PeakOf computes the peak level of already decoded samples.
func PeakOf(samples []float32) Peak {
	var peak float64
	for _, s := range samples {
		a := math.Abs(float64(s))
		if a > peak {
			peak = a
		}
	}
	return Peak{
		DB:      LinearToDB(peak),
		Clipped: peak >= 1.0-clipTolerance,
	}
}

// LinearToDB converts a linear magnitude to decibels, flooring at -180 dB.
func LinearToDB(v float64) float64 {
	return 20 * math.Log10(math.Max(v, silenceFloor))
}

// DBToLinear converts decibels to a linear gain factor.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

package dsp

import "math"

// clipCeiling is the highest peak Normalize will push the signal to. Kept
// below full scale so downstream int16 conversion cannot clip on rounding.
const clipCeiling = 0.95

// Normalize applies a single uniform gain to the whole buffer, nudging its
// RMS level toward target while guaranteeing the peak never exceeds
// clipCeiling. Non-finite samples are zeroed first. When the clip-safety cap
// wins, the result simply stays under target; no per-sample compression is
// performed. Returns the gain that was applied.
func Normalize(samples []float32, target float64) float64 {
	var sumSq float64
	var peak float64
	for i, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			samples[i] = 0
			continue
		}
		sumSq += f * f
		if a := math.Abs(f); a > peak {
			peak = a
		}
	}
	if len(samples) == 0 || peak == 0 {
		return 1
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	gain := target / rms
	if maxGain := clipCeiling / peak; gain > maxGain {
		gain = maxGain
	}
	for i, s := range samples {
		v := float64(s) * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = float32(v)
	}
	return gain
}

package playback

import (
	"encoding/binary"
	"math"
)

func pcmBytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func int16ToPCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func int16ToFloat32(samples []int16) []float32 {
	result := make([]float32, len(samples))
	for i, s := range samples {
		result[i] = float32(s) / 32768.0
	}
	return result
}

func float32ToInt16(samples []float32) []int16 {
	result := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		result[i] = int16(s * 32767.0)
	}
	return result
}

func resample(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate {
		return input
	}

	ratio := float64(toRate) / float64(fromRate)
	outputLen := int(math.Ceil(float64(len(input)) * ratio))
	output := make([]float32, outputLen)

	for i := 0; i < len(output); i++ {
		srcPos := float64(i) / ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx+1 < len(input) {
			output[i] = input[srcIdx]*(1-frac) + input[srcIdx+1]*frac
		} else if srcIdx < len(input) {
			output[i] = input[srcIdx]
		}
	}
	return output
}

// resampleInterleaved converts interleaved s16 samples between rates,
// resampling each channel independently so stereo material stays aligned.
func resampleInterleaved(samples []int16, channels, fromRate, toRate int) []int16 {
	if fromRate == toRate || channels <= 0 {
		return samples
	}
	if channels == 1 {
		return float32ToInt16(resample(int16ToFloat32(samples), fromRate, toRate))
	}

	frames := len(samples) / channels
	resampled := make([][]int16, channels)
	for ch := 0; ch < channels; ch++ {
		plane := make([]int16, frames)
		for f := 0; f < frames; f++ {
			plane[f] = samples[f*channels+ch]
		}
		resampled[ch] = float32ToInt16(resample(int16ToFloat32(plane), fromRate, toRate))
	}

	outFrames := len(resampled[0])
	out := make([]int16, outFrames*channels)
	for f := 0; f < outFrames; f++ {
		for ch := 0; ch < channels; ch++ {
			if f < len(resampled[ch]) {
				out[f*channels+ch] = resampled[ch][f]
			}
		}
	}
	return out
}

// monoToStereo duplicates each sample so mono material plays on a stereo
// device without channel-count surprises.
func monoToStereo(samples []int16) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Sample formats accepted from the browser
const (
	FormatFloat32 = "f32le"
	FormatPCM16   = "s16le"
)

// BytesPerSample returns the frame width of a supported format
func BytesPerSample(format string) (int, error) {
	switch format {
	case FormatFloat32:
		return 4, nil
	case FormatPCM16:
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported sample format: %s", format)
	}
}

// DecodeFloat32LE decodes little-endian IEEE-754 samples
func DecodeFloat32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 frame length %d is not a multiple of 4", len(data))
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}

// DecodePCM16LE decodes little-endian signed 16-bit samples into [-1, 1)
func DecodePCM16LE(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm16 frame length %d is not a multiple of 2", len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 0x8000
	}
	return samples, nil
}

// Float32ToPCM16 encodes samples as little-endian signed 16-bit PCM.
// Samples are clamped to [-1, 1]; negative values scale by 0x8000 and
// positive values by 0x7FFF so both extremes are representable.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// Resampler converts a stream of frames between rates using linear
// interpolation. The read position and the last sample carry over between
// frames, so frame joins do not click. Not safe for concurrent use.
type Resampler struct {
	ratio float64
	// pos is the next output position relative to the start of the next
	// frame. -1 addresses the last sample of the previous frame.
	pos  float64
	last float32
}

// NewResampler creates a resampler from one rate to another
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{ratio: float64(fromRate) / float64(toRate)}
}

// Process resamples the next frame of the stream
func (r *Resampler) Process(samples []float32) []float32 {
	n := len(samples)
	if n == 0 {
		return nil
	}
	if r.ratio == 1 {
		r.last = samples[n-1]
		return samples
	}

	at := func(i int) float32 {
		if i < 0 {
			return r.last
		}
		return samples[i]
	}

	out := make([]float32, 0, int(math.Ceil(float64(n)/r.ratio))+1)
	for r.pos < float64(n-1) {
		idx := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(idx))
		out = append(out, at(idx)*(1-frac)+at(idx+1)*frac)
		r.pos += r.ratio
	}

	r.pos -= float64(n)
	r.last = samples[n-1]
	return out
}

// PCM16ToInts widens PCM16 bytes into ints for go-audio buffers
func PCM16ToInts(data []byte) []int {
	out := make([]int, len(data)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return out
}

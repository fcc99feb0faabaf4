package audio

import "fmt"

// Converter turns browser microphone frames into PCM16 at the rate the
// speech API expects.
type Converter struct {
	format     string
	inputRate  int
	targetRate int
	resampler  *Resampler
}

// NewConverter creates a converter for frames in the given format and rate
func NewConverter(format string, inputRate, targetRate int) (*Converter, error) {
	if _, err := BytesPerSample(format); err != nil {
		return nil, err
	}
	if inputRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: input=%d target=%d", inputRate, targetRate)
	}
	return &Converter{
		format:     format,
		inputRate:  inputRate,
		targetRate: targetRate,
		resampler:  NewResampler(inputRate, targetRate),
	}, nil
}

// TargetRate is the sample rate of the converter's output
func (c *Converter) TargetRate() int {
	return c.targetRate
}

// Convert decodes a frame and returns it as PCM16 at the target rate.
// Frames must be passed in stream order.
func (c *Converter) Convert(frame []byte) ([]byte, error) {
	// Fast path: already in wire format
	if c.format == FormatPCM16 && c.inputRate == c.targetRate {
		if len(frame)%2 != 0 {
			return nil, fmt.Errorf("pcm16 frame length %d is not a multiple of 2", len(frame))
		}
		return frame, nil
	}

	var (
		samples []float32
		err     error
	)
	switch c.format {
	case FormatFloat32:
		samples, err = DecodeFloat32LE(frame)
	case FormatPCM16:
		samples, err = DecodePCM16LE(frame)
	}
	if err != nil {
		return nil, err
	}

	return Float32ToPCM16(c.resampler.Process(samples)), nil
}

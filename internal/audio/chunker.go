package audio

import "fmt"

// AudioChunker splits a PCM16 stream into fixed-duration chunks
type AudioChunker struct {
	chunkSize int
	buffer    []byte
}

// NewAudioChunker creates a chunker for mono or multi-channel PCM16 audio
func NewAudioChunker(sampleRate, channels, chunkMs int) *AudioChunker {
	if channels <= 0 {
		channels = 1
	}
	size := sampleRate * channels * 2 * chunkMs / 1000
	// Keep chunks aligned to whole frames
	frame := channels * 2
	size -= size % frame
	if size < frame {
		size = frame
	}
	return &AudioChunker{
		chunkSize: size,
		buffer:    make([]byte, 0, size*2),
	}
}

// ChunkSize returns the size of full chunks in bytes
func (c *AudioChunker) ChunkSize() int {
	return c.chunkSize
}

// ProcessChunk appends data and returns every complete chunk now available
func (c *AudioChunker) ProcessChunk(data []byte) ([][]byte, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm16 data length %d is not a multiple of 2", len(data))
	}
	c.buffer = append(c.buffer, data...)

	var chunks [][]byte
	for len(c.buffer) >= c.chunkSize {
		chunk := make([]byte, c.chunkSize)
		copy(chunk, c.buffer[:c.chunkSize])
		chunks = append(chunks, chunk)
		c.buffer = c.buffer[c.chunkSize:]
	}

	// Compact so the backing array does not grow without bound
	if len(c.buffer) == 0 {
		c.buffer = c.buffer[:0:cap(c.buffer)]
	} else if cap(c.buffer) > c.chunkSize*4 {
		rest := make([]byte, len(c.buffer), c.chunkSize*2)
		copy(rest, c.buffer)
		c.buffer = rest
	}

	return chunks, nil
}

// Flush returns whatever partial chunk is buffered and resets the chunker
func (c *AudioChunker) Flush() []byte {
	if len(c.buffer) == 0 {
		return nil
	}
	rest := make([]byte, len(c.buffer))
	copy(rest, c.buffer)
	c.buffer = c.buffer[:0]
	return rest
}

// Buffered returns the number of bytes waiting for a full chunk
func (c *AudioChunker) Buffered() int {
	return len(c.buffer)
}

// Package audio provides capture sources that deliver fixed-size mono frames
package audio

// Capture format constants
const (
	// Recording format is fixed: mono float32 at 16 kHz
	SampleRate = 16000
	Channels   = 1

	// Samples per channel in one frame (64ms at 16kHz)
	FramesPerBuffer = 1024

	// Float32 byte size for audio conversion
	Float32ByteSize = 4
)

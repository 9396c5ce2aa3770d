package encoder

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// encodeWAV writes samples as 16-bit PCM WAV and returns the number of
// samples per channel encoded.
func encodeWAV(w io.WriteSeeker, samples []int32, sampleRate, channels int) (int, error) {
	enc := wav.NewEncoder(w, sampleRate, pcmBitDepth, channels, wavFormatPCM)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: pcmBitDepth,
	}); err != nil {
		_ = enc.Close()
		return 0, fmt.Errorf("wav: write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("wav: close: %w", err)
	}
	return len(samples) / channels, nil
}

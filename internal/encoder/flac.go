package encoder

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// flacBlockSize is the number of samples per FLAC frame.
const flacBlockSize = 4096

// encodeFLAC writes mono samples as verbatim 16-bit FLAC frames and returns
// the number of samples encoded.
func encodeFLAC(w io.WriteSeeker, samples []int32, sampleRate, channels int) (int, error) {
	if channels != 1 {
		return 0, fmt.Errorf("flac: %d channels, only mono is supported", channels)
	}
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     uint8(channels),
		BitsPerSample: pcmBitDepth,
		NSamples:      uint64(len(samples)),
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return 0, fmt.Errorf("flac: new encoder: %w", err)
	}

	written := 0
	for num := 0; written < len(samples); num++ {
		n := min(flacBlockSize, len(samples)-written)
		block := samples[written : written+n]
		f := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(n),
				SampleRate:        uint32(sampleRate),
				Channels:          frame.ChannelsMono,
				BitsPerSample:     pcmBitDepth,
				Num:               uint64(num),
			},
			Subframes: []*frame.Subframe{{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   block,
				NSamples:  n,
			}},
		}
		if err := enc.WriteFrame(f); err != nil {
			_ = enc.Close()
			return written, fmt.Errorf("flac: write frame %d: %w", num, err)
		}
		written += n
	}

	if err := enc.Close(); err != nil {
		return written, fmt.Errorf("flac: close: %w", err)
	}
	return written, nil
}

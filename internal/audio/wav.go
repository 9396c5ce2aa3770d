package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	apperrors "github.com/good-listener/recorder/internal/errors"
)

const wavFormatPCM = 1

// WAVSource replays a mono 16 kHz integer PCM WAV file frame by frame.
type WAVSource struct {
	f     *os.File
	dec   *wav.Decoder
	pcm   *goaudio.IntBuffer
	frame Frame
	scale float32
	done  bool
	start time.Time
	read  int // frames returned so far
}

// OpenWAV opens path for replay in frames of framesPerBuffer samples.
func OpenWAV(path string, framesPerBuffer int) (*WAVSource, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = FramesPerBuffer
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "open input file").WithMetadata("path", path)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, apperrors.New(apperrors.InvalidArgument, "not a valid wav file").WithMetadata("path", path)
	}
	if err := checkWAVFormat(dec); err != nil {
		f.Close()
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "unsupported wav format").WithMetadata("path", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "locate pcm data").WithMetadata("path", path)
	}

	return &WAVSource{
		f:   f,
		dec: dec,
		pcm: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: Channels, SampleRate: SampleRate},
			Data:   make([]int, framesPerBuffer*Channels),
		},
		frame: make(Frame, framesPerBuffer*Channels),
		scale: float32(int64(1) << (dec.BitDepth - 1)),
		start: time.Now(),
	}, nil
}

func checkWAVFormat(dec *wav.Decoder) error {
	switch {
	case dec.WavAudioFormat != wavFormatPCM:
		return fmt.Errorf("audio format %d, want integer PCM", dec.WavAudioFormat)
	case dec.SampleRate != SampleRate:
		return fmt.Errorf("sample rate %d, want %d", dec.SampleRate, SampleRate)
	case dec.NumChans != Channels:
		return fmt.Errorf("%d channels, want %d", dec.NumChans, Channels)
	case dec.BitDepth == 0 || dec.BitDepth > 32:
		return fmt.Errorf("bit depth %d", dec.BitDepth)
	}
	return nil
}

// ReadFrame returns the next frame. A short final frame is padded with
// silence; after that the source reports a CaptureFailure wrapping io.EOF.
func (s *WAVSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Cancelled, "capture cancelled")
	}
	if s.done {
		return nil, apperrors.Wrap(io.EOF, apperrors.CaptureFailure, "input file ended")
	}

	n, err := s.dec.PCMBuffer(s.pcm)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CaptureFailure, "decode input file")
	}
	if n == 0 {
		s.done = true
		return nil, apperrors.Wrap(io.EOF, apperrors.CaptureFailure, "input file ended")
	}
	for i := range s.frame {
		if i < n {
			s.frame[i] = float32(s.pcm.Data[i]) / s.scale
		} else {
			s.frame[i] = 0
		}
	}
	if n < len(s.frame) {
		s.done = true
	}
	s.read++
	return s.frame, nil
}

// Now is the media clock of the replay: the open time plus the audio
// duration of the frames returned so far.
func (s *WAVSource) Now() time.Time {
	samples := s.read * len(s.frame) / Channels
	return s.start.Add(time.Duration(samples) * time.Second / SampleRate)
}

// Close closes the input file.
func (s *WAVSource) Close() error {
	return s.f.Close()
}

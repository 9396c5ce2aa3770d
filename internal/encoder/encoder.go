// Package encoder persists completed utterances as audio files.
package encoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/good-listener/recorder/internal/audio"
	apperrors "github.com/good-listener/recorder/internal/errors"
	"github.com/good-listener/recorder/internal/segment"
)

// Format is an output container.
type Format string

const (
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
)

// pcmBitDepth is the stored sample width for both containers.
const pcmBitDepth = 16

// ParseFormat maps a name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.TrimPrefix(strings.ToLower(s), ".")) {
	case FormatFLAC:
		return FormatFLAC, nil
	case FormatWAV:
		return FormatWAV, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Ext returns the file extension for f, including the dot.
func (f Format) Ext() string { return "." + string(f) }

// FileSink writes each segment to one file at a fixed path.
type FileSink struct {
	path   string
	format Format
}

// New creates a sink that writes format to path.
func New(format Format, path string) (*FileSink, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "output format")
	}
	if path == "" {
		return nil, apperrors.New(apperrors.ConfigInvalid, "output path is empty")
	}
	return &FileSink{path: path, format: format}, nil
}

// Path returns the destination file.
func (s *FileSink) Path() string { return s.path }

// Format returns the output container.
func (s *FileSink) Format() Format { return s.format }

// WriteSegment encodes seg and atomically replaces the destination file.
// It returns the size of the finished file. Any failure, including a short
// write, is an EncodeFailure and leaves no partial file behind.
func (s *FileSink) WriteSegment(ctx context.Context, seg segment.Segment) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.Cancelled, "write segment")
	}
	samples, err := pcmSamples(seg)
	if err != nil {
		return 0, s.fail(err, "invalid segment")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return 0, s.fail(err, "create temp file")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	cw := &countingWriter{w: tmp}
	var n int
	switch s.format {
	case FormatWAV:
		n, err = encodeWAV(cw, samples, seg.SampleRate, seg.Channels)
	default:
		n, err = encodeFLAC(cw, samples, seg.SampleRate, seg.Channels)
	}
	if err != nil {
		return 0, s.fail(err, "encode")
	}
	if want := len(samples) / seg.Channels; n != want || cw.n < int64(len(samples))*pcmBitDepth/8 {
		return 0, s.fail(io.ErrShortWrite, fmt.Sprintf("wrote %d of %d samples", n, want))
	}

	if err := tmp.Sync(); err != nil {
		return 0, s.fail(err, "sync")
	}
	info, err := tmp.Stat()
	if err != nil {
		return 0, s.fail(err, "stat")
	}
	if err := tmp.Close(); err != nil {
		return 0, s.fail(err, "close")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return 0, s.fail(err, "rename")
	}
	committed = true
	syncDir(filepath.Dir(s.path))

	slog.Debug("output file replaced", "path", s.path, "format", s.format, "frames", seg.Frames, "bytes", info.Size())
	return info.Size(), nil
}

func (s *FileSink) fail(err error, msg string) error {
	return apperrors.Wrap(err, apperrors.EncodeFailure, msg).
		WithMetadata("path", s.path).
		WithMetadata("format", string(s.format))
}

// pcmSamples converts the float32 bytes of seg into 16-bit integer samples.
func pcmSamples(seg segment.Segment) ([]int32, error) {
	if seg.Channels != audio.Channels {
		return nil, fmt.Errorf("%d channels, only mono is supported", seg.Channels)
	}
	if seg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate %d", seg.SampleRate)
	}
	floats := audio.BytesToFloat32(seg.Data)
	if len(floats) == 0 {
		return nil, fmt.Errorf("segment has %d bytes of audio", len(seg.Data))
	}
	samples := make([]int32, len(floats))
	for i, f := range floats {
		samples[i] = toPCM16(f)
	}
	return samples, nil
}

func toPCM16(f float32) int32 {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int32(math.Round(v * math.MaxInt16))
}

// countingWriter counts bytes and turns silent short writes into errors.
type countingWriter struct {
	w io.WriteSeeker
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

func (c *countingWriter) Seek(offset int64, whence int) (int64, error) {
	return c.w.Seek(offset, whence)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Package recorder runs one recording cycle: pull a frame from the source,
// classify it, accumulate speech and hand the finished utterance to a sink.
package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/good-listener/recorder/internal/audio"
	apperrors "github.com/good-listener/recorder/internal/errors"
	"github.com/good-listener/recorder/internal/observe"
	"github.com/good-listener/recorder/internal/segment"
	"github.com/good-listener/recorder/internal/trace"
	"github.com/good-listener/recorder/internal/vad"
)

// Source delivers fixed-size frames. ReadFrame blocks until a frame is
// available; the returned slice may be reused by the next call.
type Source interface {
	ReadFrame(ctx context.Context) (audio.Frame, error)
}

// Sink persists a finished segment and reports the bytes written.
type Sink interface {
	WriteSegment(ctx context.Context, seg segment.Segment) (int64, error)
}

// Config groups the detector and accumulator settings of a session.
type Config struct {
	VAD     vad.Params
	Segment segment.Config
}

// Result describes a completed cycle. Err carries a sink failure; the
// segment was still produced and the cycle is considered complete.
type Result struct {
	Segment segment.Segment
	Written int64
	Err     error
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metric instruments. Defaults to no-op instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session owns the detector and accumulator state of one cycle.
// It is not safe for concurrent use.
type Session struct {
	src     Source
	sink    Sink
	vad     *vad.Classifier
	acc     *segment.Accumulator
	now     func() time.Time
	log     *slog.Logger
	metrics *observe.Metrics
	scratch []byte
	frames  int
}

// New creates an armed session.
func New(cfg Config, src Source, sink Sink, opts ...Option) (*Session, error) {
	if src == nil || sink == nil {
		return nil, apperrors.New(apperrors.InvalidArgument, "recorder needs a source and a sink")
	}
	classifier, err := vad.NewClassifier(cfg.VAD)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "vad params")
	}
	acc, err := segment.New(cfg.Segment)
	if err != nil {
		return nil, err
	}

	s := &Session{
		src:     src,
		sink:    sink,
		vad:     classifier,
		acc:     acc,
		now:     time.Now,
		log:     slog.Default(),
		scratch: make([]byte, 0, cfg.Segment.FrameBytes),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.Noop()
	}
	return s, nil
}

// State returns the accumulator state.
func (s *Session) State() segment.State { return s.acc.State() }

// Threshold returns the current detector threshold.
func (s *Session) Threshold() float64 { return s.vad.State().Threshold }

// FramesSeen returns the number of frames read by the session.
func (s *Session) FramesSeen() int { return s.frames }

// Step reads and processes exactly one frame. A flushed segment is returned
// in the event and is not written to the sink.
func (s *Session) Step(ctx context.Context) (segment.Event, error) {
	frame, err := s.src.ReadFrame(ctx)
	if err != nil {
		if !apperrors.IsCode(err, apperrors.Cancelled) {
			s.metrics.CaptureErrors.Add(ctx, 1)
		}
		return segment.Event{Kind: segment.EventNone, State: s.acc.State(), Frames: s.acc.Frames()}, err
	}
	s.frames++

	d := s.vad.Classify(frame)
	s.metrics.RecordFrame(ctx, d.Speech, d.Threshold)
	if d.Edge != vad.EdgeNone {
		s.log.Debug("voice activity edge", "edge", d.Edge, "energy", d.Energy, "threshold", d.Threshold)
	}

	s.scratch = audio.AppendFloat32Bytes(s.scratch[:0], frame)
	ev, err := s.acc.Observe(s.scratch, d.Speech, s.now())
	if err != nil {
		s.metrics.RecordDiscard(ctx, discardReason(err))
		return ev, err
	}
	if ev.Kind == segment.EventStarted {
		s.log.Debug("segment started", "threshold", d.Threshold)
	}
	return ev, nil
}

// Run steps until a segment is flushed and written, or until the source
// fails, a segment is discarded, or ctx is cancelled.
func (s *Session) Run(ctx context.Context) (Result, error) {
	log := trace.Logger(ctx, s.log)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, apperrors.Wrap(err, apperrors.Cancelled, "recording cancelled")
		}

		ev, err := s.Step(ctx)
		if err != nil {
			if ev.Kind == segment.EventDiscarded {
				log.Warn("segment discarded", "error", err)
			}
			return Result{}, err
		}
		if ev.Kind != segment.EventFlushed {
			continue
		}

		seg := *ev.Segment
		n, werr := s.sink.WriteSegment(ctx, seg)
		seconds := segmentSeconds(seg)
		s.metrics.RecordSegment(ctx, seconds, n, werr)

		if werr != nil {
			log.Error("segment write failed", "frames", seg.Frames, "seconds", seconds, "error", werr)
		} else {
			log.Info("segment written", "frames", seg.Frames, "seconds", seconds, "bytes", n)
		}
		return Result{Segment: seg, Written: n, Err: werr}, nil
	}
}

func segmentSeconds(seg segment.Segment) float64 {
	if seg.SampleRate <= 0 || seg.Channels <= 0 {
		return 0
	}
	samples := len(seg.Data) / (audio.Float32ByteSize * seg.Channels)
	return float64(samples) / float64(seg.SampleRate)
}

func discardReason(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.AllocationFailure:
		return "allocation"
	case apperrors.InvalidArgument:
		return "invalid_frame"
	default:
		return "other"
	}
}

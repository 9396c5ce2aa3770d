// Package segment accumulates speech frames into utterances and decides when
// an utterance is complete.
package segment

import (
	"fmt"
	"time"

	apperrors "github.com/good-listener/recorder/internal/errors"
)

// Accumulator defaults.
const (
	DefaultMinFrames = 8
	DefaultMinGap    = 1500 * time.Millisecond
	DefaultMaxGap    = 10 * time.Second
)

// Config controls when an utterance ends.
type Config struct {
	FrameBytes int           // bytes in one frame
	MinFrames  int           // frames required before a flush
	MinGap     time.Duration // silence after the last speech frame before a flush
	MaxGap     time.Duration // silence beyond which no flush happens
	MaxBytes   int           // buffer cap; 0 disables it
	SampleRate int
	Channels   int
}

// Validate checks the accumulator settings.
func (c Config) Validate() error {
	if c.FrameBytes <= 0 {
		return fmt.Errorf("frame bytes must be positive, got %d", c.FrameBytes)
	}
	if c.MinFrames < 1 {
		return fmt.Errorf("min frames must be at least 1, got %d", c.MinFrames)
	}
	if c.MinGap < 0 || c.MaxGap < c.MinGap {
		return fmt.Errorf("silence gap window [%s, %s] is empty", c.MinGap, c.MaxGap)
	}
	if c.MaxBytes != 0 && c.MaxBytes < c.MinFrames*c.FrameBytes {
		return fmt.Errorf("max bytes %d cannot hold %d frames", c.MaxBytes, c.MinFrames)
	}
	return nil
}

// State of the accumulator.
type State int

const (
	Armed State = iota
	Capturing
	Ended
)

func (s State) String() string {
	return [...]string{"armed", "capturing", "ended"}[s]
}

// Action is what the accumulator does with one classified frame.
type Action int

const (
	ActionWait Action = iota
	ActionAppend
	ActionFlush
)

func (a Action) String() string {
	return [...]string{"wait", "append", "flush"}[a]
}

// Decide is the accumulator transition table. elapsed is the time since the
// most recent speech frame and frames the number of frames buffered.
func Decide(st State, speech bool, elapsed time.Duration, frames int, cfg Config) Action {
	if speech {
		return ActionAppend
	}
	if st != Capturing || frames < cfg.MinFrames {
		return ActionWait
	}
	// Gaps past MaxGap never flush; the segment waits for more speech.
	if elapsed < cfg.MinGap || elapsed > cfg.MaxGap {
		return ActionWait
	}
	return ActionFlush
}

// EventKind reports what happened to a frame.
type EventKind int

const (
	EventNone EventKind = iota
	EventStarted
	EventAppended
	EventFlushed
	EventDiscarded
)

func (k EventKind) String() string {
	return [...]string{"none", "started", "appended", "flushed", "discarded"}[k]
}

// Segment is a completed utterance. Data is owned by the receiver.
type Segment struct {
	Data       []byte
	Frames     int
	SampleRate int
	Channels   int
	Start      time.Time // first speech frame
	End        time.Time // last speech frame
}

// Event is the result of observing one frame.
type Event struct {
	Kind    EventKind
	State   State // state after the frame
	Frames  int   // frames buffered after the frame
	Segment *Segment
}

// Accumulator owns the utterance buffer of one session.
type Accumulator struct {
	cfg         Config
	buf         *Buffer
	firstSpeech time.Time
	lastSpeech  time.Time
	lastSilence time.Time
}

// New creates an armed accumulator.
func New(cfg Config) (*Accumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "segment config")
	}
	return &Accumulator{cfg: cfg, buf: NewBuffer(cfg.FrameBytes, cfg.MaxBytes)}, nil
}

// State returns Capturing once a frame has been buffered since the last reset.
func (a *Accumulator) State() State {
	if a.buf.Len() > 0 {
		return Capturing
	}
	return Armed
}

// Frames returns the number of buffered frames.
func (a *Accumulator) Frames() int { return a.buf.Frames() }

// Len returns the buffered size in bytes.
func (a *Accumulator) Len() int { return a.buf.Len() }

// LastSpeech returns the time of the most recent speech frame.
func (a *Accumulator) LastSpeech() time.Time { return a.lastSpeech }

// LastSilence returns the time of the most recent silence frame.
func (a *Accumulator) LastSilence() time.Time { return a.lastSilence }

// Observe folds one classified frame into the accumulator. frame holds the raw
// sample bytes and is copied on append. A growth failure discards the
// buffered segment and returns an AllocationFailure with an EventDiscarded.
func (a *Accumulator) Observe(frame []byte, speech bool, now time.Time) (Event, error) {
	st := a.State()
	var elapsed time.Duration
	if !speech {
		a.lastSilence = now
		elapsed = now.Sub(a.lastSpeech)
	}

	switch Decide(st, speech, elapsed, a.buf.Frames(), a.cfg) {
	case ActionAppend:
		if err := a.buf.AppendFrame(frame); err != nil {
			dropped := a.buf.Frames()
			a.reset()
			return Event{Kind: EventDiscarded, State: Armed},
				apperrors.Wrapf(err, apperrors.CodeOf(err), "discarded segment of %d frames", dropped)
		}
		kind := EventAppended
		if st == Armed {
			a.firstSpeech = now
			kind = EventStarted
		}
		a.lastSpeech = now
		return Event{Kind: kind, State: Capturing, Frames: a.buf.Frames()}, nil

	case ActionFlush:
		seg := &Segment{
			Frames:     a.buf.Frames(),
			SampleRate: a.cfg.SampleRate,
			Channels:   a.cfg.Channels,
			Start:      a.firstSpeech,
			End:        a.lastSpeech,
		}
		seg.Data = a.buf.Take()
		a.reset()
		return Event{Kind: EventFlushed, State: Ended, Segment: seg}, nil

	default:
		return Event{Kind: EventNone, State: st, Frames: a.buf.Frames()}, nil
	}
}

// Reset discards any buffered audio and re-arms the accumulator.
func (a *Accumulator) Reset() { a.reset() }

func (a *Accumulator) reset() {
	a.buf.Reset()
	a.firstSpeech = time.Time{}
	a.lastSpeech = time.Time{}
	a.lastSilence = time.Time{}
}

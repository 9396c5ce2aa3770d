// Package vad classifies audio frames as speech or silence against an
// adaptive energy threshold.
package vad

import (
	"fmt"
	"math"
)

// Classifier defaults, tuned for normalized float32 samples.
const (
	DefaultInitialThreshold = 0.00075
	DefaultWeight           = 0.99
	DefaultTriggerRatio     = 4.0
)

// minThreshold keeps the threshold strictly positive through long runs of
// digital silence, where the moving average would otherwise underflow.
const minThreshold = math.SmallestNonzeroFloat64

// Params configures threshold adaptation.
type Params struct {
	InitialThreshold float64
	Weight           float64 // smoothing weight W of the moving average
	TriggerRatio     float64 // hysteresis ratio R
}

// DefaultParams returns the standard classifier parameters.
func DefaultParams() Params {
	return Params{
		InitialThreshold: DefaultInitialThreshold,
		Weight:           DefaultWeight,
		TriggerRatio:     DefaultTriggerRatio,
	}
}

// Validate checks that p keeps the threshold positive and finite.
func (p Params) Validate() error {
	if !(p.InitialThreshold > 0) || math.IsInf(p.InitialThreshold, 0) {
		return fmt.Errorf("initial threshold must be positive and finite, got %v", p.InitialThreshold)
	}
	if !(p.Weight > 0 && p.Weight < 1) {
		return fmt.Errorf("threshold weight must be in (0, 1), got %v", p.Weight)
	}
	if !(p.TriggerRatio > 0) || math.IsInf(p.TriggerRatio, 0) {
		return fmt.Errorf("trigger ratio must be positive and finite, got %v", p.TriggerRatio)
	}
	return nil
}

// State is the per-session classifier state.
type State struct {
	Threshold float64
	Speaking  bool
}

// NewState returns the state a session starts from.
func NewState(p Params) State {
	return State{Threshold: p.InitialThreshold}
}

// Edge is a speech/silence transition.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeOnset
	EdgeOffset
)

func (e Edge) String() string {
	switch e {
	case EdgeOnset:
		return "onset"
	case EdgeOffset:
		return "offset"
	default:
		return "none"
	}
}

// Decision is the outcome of classifying one frame.
type Decision struct {
	Energy    float64
	Speech    bool
	Edge      Edge
	Threshold float64 // threshold after the update
}

// RMS returns the root-mean-square of samples, or 0 for an empty frame.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Adjust applies one step of the threshold moving average.
func Adjust(p Params, threshold, energy float64) float64 {
	t := p.Weight*threshold + (1-p.Weight)*energy/p.TriggerRatio
	if t < minThreshold {
		return minThreshold
	}
	return t
}

// Transition maps the previous speaking flag and the current classification
// to the next flag and the edge crossed, if any.
func Transition(speaking, speech bool) (bool, Edge) {
	switch {
	case speech && !speaking:
		return true, EdgeOnset
	case !speech && speaking:
		return false, EdgeOffset
	default:
		return speaking, EdgeNone
	}
}

// StepEnergy folds one frame energy into s. Non-finite energy counts as
// silence and contributes nothing to the average.
func StepEnergy(p Params, s State, energy float64) (State, Decision) {
	if math.IsNaN(energy) || math.IsInf(energy, 0) {
		energy = 0
	}
	speech := energy > s.Threshold

	next, edge := Transition(s.Speaking, speech)
	threshold := s.Threshold
	switch edge {
	case EdgeOnset:
		threshold /= p.TriggerRatio
	case EdgeOffset:
		threshold *= p.TriggerRatio
	}
	threshold = Adjust(p, threshold, energy)

	return State{Threshold: threshold, Speaking: next}, Decision{
		Energy:    energy,
		Speech:    speech,
		Edge:      edge,
		Threshold: threshold,
	}
}

// Step classifies one frame.
func Step(p Params, s State, frame []float32) (State, Decision) {
	return StepEnergy(p, s, RMS(frame))
}

// Classifier holds the state of one session.
type Classifier struct {
	params Params
	state  State
}

// NewClassifier creates a classifier; p must be valid.
func NewClassifier(p Params) (*Classifier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{params: p, state: NewState(p)}, nil
}

// Classify processes one frame and updates the threshold.
func (c *Classifier) Classify(frame []float32) Decision {
	var d Decision
	c.state, d = Step(c.params, c.state, frame)
	return d
}

// State returns the current state.
func (c *Classifier) State() State { return c.state }

// Reset starts a new session.
func (c *Classifier) Reset() { c.state = NewState(c.params) }

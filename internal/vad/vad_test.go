package vad

import (
	"math"
	"math/rand/v2"
	"testing"
)

func constFrame(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name  string
		frame []float32
		want  float64
	}{
		{"empty", nil, 0},
		{"zeros", make([]float32, 1024), 0},
		{"constant", constFrame(16, 0.5), 0.5},
		{"negative constant", constFrame(16, -0.25), 0.25},
		{"alternating", []float32{1, -1, 1, -1}, 1},
		{"single", []float32{3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.frame); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("RMS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRMSZeroOnlyForSilence(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		frame := make([]float32, 64)
		nonZero := false
		for j := range frame {
			if r.IntN(4) == 0 {
				frame[j] = r.Float32()
				nonZero = nonZero || frame[j] != 0
			}
		}
		got := RMS(frame)
		if got < 0 {
			t.Fatalf("RMS() = %v, want >= 0", got)
		}
		if (got == 0) == nonZero {
			t.Fatalf("RMS() = %v with nonZero=%v", got, nonZero)
		}
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		speaking, speech bool
		next             bool
		edge             Edge
	}{
		{false, false, false, EdgeNone},
		{false, true, true, EdgeOnset},
		{true, true, true, EdgeNone},
		{true, false, false, EdgeOffset},
	}

	for _, tt := range tests {
		next, edge := Transition(tt.speaking, tt.speech)
		if next != tt.next || edge != tt.edge {
			t.Errorf("Transition(%v, %v) = (%v, %v), want (%v, %v)",
				tt.speaking, tt.speech, next, edge, tt.next, tt.edge)
		}
	}
}

func TestStepOnsetDividesThenAverages(t *testing.T) {
	p := DefaultParams()
	s := NewState(p)

	s, d := StepEnergy(p, s, 0.1)

	want := p.Weight*(p.InitialThreshold/p.TriggerRatio) + (1-p.Weight)*0.1/p.TriggerRatio
	if !d.Speech || d.Edge != EdgeOnset || !s.Speaking {
		t.Fatalf("decision = %+v, state = %+v; want onset", d, s)
	}
	if s.Threshold != want {
		t.Errorf("threshold = %v, want %v", s.Threshold, want)
	}
}

func TestStepOffsetMultipliesThenAverages(t *testing.T) {
	p := DefaultParams()
	s := State{Threshold: 0.01, Speaking: true}

	s, d := StepEnergy(p, s, 0.001)

	want := p.Weight*(0.01*p.TriggerRatio) + (1-p.Weight)*0.001/p.TriggerRatio
	if d.Speech || d.Edge != EdgeOffset || s.Speaking {
		t.Fatalf("decision = %+v, state = %+v; want offset", d, s)
	}
	if s.Threshold != want {
		t.Errorf("threshold = %v, want %v", s.Threshold, want)
	}
}

func TestStepWithoutEdgeOnlyAverages(t *testing.T) {
	p := DefaultParams()
	s := NewState(p)

	s, d := StepEnergy(p, s, 0.0001)

	if d.Speech || d.Edge != EdgeNone {
		t.Fatalf("decision = %+v, want silence without edge", d)
	}
	if want := Adjust(p, p.InitialThreshold, 0.0001); s.Threshold != want {
		t.Errorf("threshold = %v, want %v", s.Threshold, want)
	}
}

func TestStepIsDeterministic(t *testing.T) {
	p := DefaultParams()
	r := rand.New(rand.NewPCG(7, 11))
	energies := make([]float64, 5000)
	for i := range energies {
		energies[i] = r.Float64() * 0.02
	}

	run := func() []uint64 {
		s := NewState(p)
		out := make([]uint64, len(energies))
		for i, e := range energies {
			s, _ = StepEnergy(p, s, e)
			out[i] = math.Float64bits(s.Threshold)
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("threshold diverged at step %d: %x != %x", i, a[i], b[i])
		}
	}
}

func TestThresholdStaysPositiveAndFinite(t *testing.T) {
	p := DefaultParams()
	r := rand.New(rand.NewPCG(3, 5))
	s := NewState(p)

	for i := 0; i < 200000; i++ {
		var e float64
		switch r.IntN(3) {
		case 0:
			e = 0
		case 1:
			e = r.Float64() * 1e-3
		default:
			e = r.Float64()
		}
		s, _ = StepEnergy(p, s, e)
		if !(s.Threshold > 0) || math.IsInf(s.Threshold, 0) {
			t.Fatalf("threshold = %v at step %d", s.Threshold, i)
		}
	}
}

func TestThresholdSurvivesLongDigitalSilence(t *testing.T) {
	p := DefaultParams()
	s := NewState(p)
	for i := 0; i < 100000; i++ {
		s, _ = StepEnergy(p, s, 0)
	}
	if !(s.Threshold > 0) {
		t.Errorf("threshold = %v, want > 0", s.Threshold)
	}
}

func TestNonFiniteEnergyIsSilence(t *testing.T) {
	p := DefaultParams()
	for _, e := range []float64{math.NaN(), math.Inf(1)} {
		s, d := StepEnergy(p, NewState(p), e)
		if d.Speech {
			t.Errorf("energy %v classified as speech", e)
		}
		if math.IsNaN(s.Threshold) || math.IsInf(s.Threshold, 0) {
			t.Errorf("energy %v produced threshold %v", e, s.Threshold)
		}
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"defaults", func(*Params) {}, false},
		{"zero threshold", func(p *Params) { p.InitialThreshold = 0 }, true},
		{"nan threshold", func(p *Params) { p.InitialThreshold = math.NaN() }, true},
		{"inf threshold", func(p *Params) { p.InitialThreshold = math.Inf(1) }, true},
		{"weight one", func(p *Params) { p.Weight = 1 }, true},
		{"weight zero", func(p *Params) { p.Weight = 0 }, true},
		{"negative ratio", func(p *Params) { p.TriggerRatio = -4 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClassifierSilenceNeverSpeaks(t *testing.T) {
	tests := []struct {
		name  string
		frame func(threshold float64) []float32
	}{
		{"digital silence", func(float64) []float32 { return constFrame(1024, 0) }},
		{"half the current threshold", func(th float64) []float32 { return constFrame(1024, float32(th/2)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClassifier(DefaultParams())
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 1000; i++ {
				th := c.State().Threshold
				d := c.Classify(tt.frame(th))
				if d.Speech || c.State().Speaking {
					t.Fatalf("frame %d classified as speech (threshold %v)", i, d.Threshold)
				}
				if d.Threshold > th {
					t.Fatalf("frame %d raised threshold %v -> %v", i, th, d.Threshold)
				}
			}
		})
	}
}

// Steady noise below the initial threshold pulls the average toward e/R,
// which is below e, so the noise is eventually classified as speech.
func TestConstantNoiseCrossesDecayedThreshold(t *testing.T) {
	p := DefaultParams()
	c, err := NewClassifier(p)
	if err != nil {
		t.Fatal(err)
	}
	const level = 0.0001
	noise := constFrame(1024, level)

	onset := -1
	for i := 0; i < 1000; i++ {
		if d := c.Classify(noise); d.Speech {
			onset = i
			break
		}
	}
	if onset < 0 {
		t.Fatalf("noise at %v never crossed the threshold", level)
	}
	if onset == 0 {
		t.Errorf("noise below the initial threshold %v was speech on the first frame", p.InitialThreshold)
	}
}

func TestClassifierHysteresis(t *testing.T) {
	c, err := NewClassifier(DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	loud := constFrame(1024, 0.05)
	if d := c.Classify(loud); !d.Speech || d.Edge != EdgeOnset {
		t.Fatalf("first loud frame: %+v", d)
	}

	// Quieter than the initial threshold would allow, but above the lowered one.
	softer := constFrame(1024, 0.0006)
	if d := c.Classify(softer); !d.Speech {
		t.Errorf("softer frame dropped out of speech: %+v", d)
	}

	c.Reset()
	if got := c.State(); got.Speaking || got.Threshold != DefaultInitialThreshold {
		t.Errorf("state after Reset = %+v", got)
	}
}

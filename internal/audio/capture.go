package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/good-listener/recorder/internal/errors"
)

// DeviceConfig selects and shapes the capture stream.
type DeviceConfig struct {
	Device          string // name substring; empty picks the default input
	ExcludedDevices []string
	FramesPerBuffer int
}

// PortAudioSource reads frames from an input device with blocking reads.
type PortAudioSource struct {
	stream    *portaudio.Stream
	buf       []float32
	device    string
	closeOnce sync.Once
	closeErr  error
}

// OpenPortAudio initializes PortAudio and starts a mono 16 kHz float32 input
// stream on the selected device.
func OpenPortAudio(cfg DeviceConfig) (*PortAudioSource, error) {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = FramesPerBuffer
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "initialize portaudio")
	}

	dev, err := selectDevice(cfg)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultHighInputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
		Flags:           portaudio.ClipOff,
	}

	buf := make([]float32, cfg.FramesPerBuffer*Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "open input stream").
			WithMetadata("device", dev.Name)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "start input stream").
			WithMetadata("device", dev.Name)
	}

	slog.Info("started audio capture", "device", dev.Name, "sample_rate", SampleRate, "frames_per_buffer", cfg.FramesPerBuffer)
	return &PortAudioSource{stream: stream, buf: buf, device: dev.Name}, nil
}

// Device returns the name of the capture device.
func (s *PortAudioSource) Device() string { return s.device }

// ReadFrame blocks until the next frame is available. The returned frame is
// overwritten by the next call.
func (s *PortAudioSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Cancelled, "capture cancelled")
	}
	if err := s.stream.Read(); err != nil {
		// An overflow means frames were dropped by the driver; the buffer
		// still holds a full frame of current audio.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, apperrors.Wrap(err, apperrors.CaptureFailure, "read input stream").
				WithMetadata("device", s.device)
		}
		slog.Debug("audio input overflowed", "device", s.device)
	}
	return s.buf, nil
}

// Abort stops the stream immediately, unblocking a pending ReadFrame with an
// error. Unlike Close it may be called while a read is in progress.
func (s *PortAudioSource) Abort() error {
	return s.stream.Abort()
}

// Close stops the stream and releases PortAudio.
func (s *PortAudioSource) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stream.Stop()
		s.closeErr = s.stream.Close()
		_ = portaudio.Terminate()
	})
	return s.closeErr
}

func selectDevice(cfg DeviceConfig) (*portaudio.DeviceInfo, error) {
	if cfg.Device == "" {
		if dev, err := portaudio.DefaultInputDevice(); err == nil && !isExcluded(dev.Name, cfg.ExcludedDevices) {
			return dev, nil
		}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "list audio devices")
	}

	names := make([]string, 0, len(devices))
	byName := make(map[string]*portaudio.DeviceInfo, len(devices))
	for _, dev := range devices {
		if dev.MaxInputChannels < Channels {
			continue
		}
		names = append(names, dev.Name)
		byName[dev.Name] = dev
	}

	name, ok := pickDevice(names, cfg.Device, cfg.ExcludedDevices)
	if !ok {
		err := apperrors.New(apperrors.DeviceUnavailable, "no usable input device")
		if cfg.Device != "" {
			err = err.WithMetadata("device", cfg.Device)
		}
		return nil, err
	}
	return byName[name], nil
}

// pickDevice chooses among input device names. With a wanted substring the
// first match wins; otherwise the best microphone is chosen, skipping
// loopback devices.
func pickDevice(names []string, want string, excluded []string) (string, bool) {
	var best string
	for _, name := range names {
		if isExcluded(name, excluded) {
			continue
		}
		if want != "" {
			if containsIgnoreCase(name, want) {
				return name, true
			}
			continue
		}
		if classifyDevice(name) == "system" {
			continue
		}
		if best == "" || preferDevice(name, best) {
			best = name
		}
	}
	return best, best != ""
}

func classifyDevice(name string) string {
	systemKeywords := []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	for _, kw := range systemKeywords {
		if containsIgnoreCase(name, kw) {
			return "system"
		}
	}

	micKeywords := []string{"microphone", "input", "mic", "built-in"}
	for _, kw := range micKeywords {
		if containsIgnoreCase(name, kw) {
			return "user"
		}
	}

	return ""
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

func preferDevice(name, current string) bool {
	// Recognized microphones beat unknown inputs, built-in beats external
	if classifyDevice(name) == "user" && classifyDevice(current) != "user" {
		return true
	}
	preferred := []string{"macbook", "built-in"}
	for _, p := range preferred {
		nameHas := containsIgnoreCase(name, p)
		currHas := containsIgnoreCase(current, p)
		if nameHas && !currHas {
			return true
		}
	}
	return false
}

func containsIgnoreCase(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || containsIgnoreCaseImpl(s, substr))
}

const asciiCaseOffset = 'a' - 'A'

func containsIgnoreCaseImpl(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += asciiCaseOffset
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += asciiCaseOffset
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

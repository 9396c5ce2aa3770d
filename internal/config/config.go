// Package config handles recorder configuration
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-listener/recorder/internal/audio"
	"github.com/good-listener/recorder/internal/encoder"
	apperrors "github.com/good-listener/recorder/internal/errors"
	"github.com/good-listener/recorder/internal/segment"
	"github.com/good-listener/recorder/internal/vad"
)

type Config struct {
	LogLevel             string        `yaml:"log_level"`
	OutputPath           string        `yaml:"output_path"`
	OutputFormat         string        `yaml:"output_format"`
	Segments             int           `yaml:"segments"` // 0 records until stopped
	InputFile            string        `yaml:"input_file"`
	AudioDevice          string        `yaml:"audio_device"`
	ExcludedAudioDevices []string      `yaml:"excluded_audio_devices"`
	FramesPerBuffer      int           `yaml:"frames_per_buffer"`
	VADInitialThreshold  float64       `yaml:"vad_initial_threshold"`
	VADThresholdWeight   float64       `yaml:"vad_threshold_weight"`
	VADTriggerRatio      float64       `yaml:"vad_trigger_ratio"`
	MinSpeechFrames      int           `yaml:"min_speech_frames"`
	MinSilenceGap        time.Duration `yaml:"min_silence_gap"`
	MaxSilenceGap        time.Duration `yaml:"max_silence_gap"`
	MaxSegmentBytes      int           `yaml:"max_segment_bytes"`
	RetryMax             int           `yaml:"retry_max"`
	RetryBaseDelay       time.Duration `yaml:"retry_base_delay"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:             "info",
		OutputPath:           "record_file.flac",
		OutputFormat:         string(encoder.FormatFLAC),
		Segments:             1,
		ExcludedAudioDevices: []string{"iphone", "teams"},
		FramesPerBuffer:      audio.FramesPerBuffer,
		VADInitialThreshold:  vad.DefaultInitialThreshold,
		VADThresholdWeight:   vad.DefaultWeight,
		VADTriggerRatio:      vad.DefaultTriggerRatio,
		MinSpeechFrames:      segment.DefaultMinFrames,
		MinSilenceGap:        segment.DefaultMinGap,
		MaxSilenceGap:        segment.DefaultMaxGap,
		MaxSegmentBytes:      audio.SampleRate * audio.Float32ByteSize * 600, // 10 minutes
		RetryMax:             3,
		RetryBaseDelay:       500 * time.Millisecond,
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if set) and environment overrides, then validates it.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "config file").WithMetadata("path", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "invalid configuration")
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.OutputPath = getEnv("OUTPUT_PATH", c.OutputPath)
	c.OutputFormat = getEnv("OUTPUT_FORMAT", c.OutputFormat)
	c.Segments = getEnvInt("SEGMENTS", c.Segments)
	c.InputFile = getEnv("INPUT_FILE", c.InputFile)
	c.AudioDevice = getEnv("AUDIO_DEVICE", c.AudioDevice)
	c.ExcludedAudioDevices = getEnvList("EXCLUDED_AUDIO_DEVICES", c.ExcludedAudioDevices)
	c.FramesPerBuffer = getEnvInt("FRAMES_PER_BUFFER", c.FramesPerBuffer)
	c.VADInitialThreshold = getEnvFloat("VAD_INITIAL_THRESHOLD", c.VADInitialThreshold)
	c.VADThresholdWeight = getEnvFloat("VAD_THRESHOLD_WEIGHT", c.VADThresholdWeight)
	c.VADTriggerRatio = getEnvFloat("VAD_TRIGGER_RATIO", c.VADTriggerRatio)
	c.MinSpeechFrames = getEnvInt("MIN_SPEECH_FRAMES", c.MinSpeechFrames)
	c.MinSilenceGap = getEnvDuration("MIN_SILENCE_GAP", c.MinSilenceGap)
	c.MaxSilenceGap = getEnvDuration("MAX_SILENCE_GAP", c.MaxSilenceGap)
	c.MaxSegmentBytes = getEnvInt("MAX_SEGMENT_BYTES", c.MaxSegmentBytes)
	c.RetryMax = getEnvInt("RETRY_MAX", c.RetryMax)
	c.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", c.RetryBaseDelay)
}

// Validate checks that c contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := encoder.ParseFormat(c.OutputFormat); err != nil {
		errs = append(errs, err)
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output_path is empty"))
	}
	if c.Segments < 0 {
		errs = append(errs, fmt.Errorf("segments must be >= 0, got %d", c.Segments))
	}
	if c.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("frames_per_buffer must be positive, got %d", c.FramesPerBuffer))
	}
	if c.MaxSegmentBytes < 0 {
		errs = append(errs, fmt.Errorf("max_segment_bytes must be >= 0, got %d", c.MaxSegmentBytes))
	}
	if c.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("retry_max must be >= 0, got %d", c.RetryMax))
	}
	if err := c.VAD().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.FramesPerBuffer > 0 && c.MaxSegmentBytes >= 0 {
		if err := c.Segment().Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", c.LogLevel)
	}
	return l, nil
}

// Format returns the parsed output format.
func (c *Config) Format() encoder.Format {
	f, _ := encoder.ParseFormat(c.OutputFormat)
	return f
}

// VAD returns the classifier parameters.
func (c *Config) VAD() vad.Params {
	return vad.Params{
		InitialThreshold: c.VADInitialThreshold,
		Weight:           c.VADThresholdWeight,
		TriggerRatio:     c.VADTriggerRatio,
	}
}

// Segment returns the accumulator settings for the fixed capture format.
func (c *Config) Segment() segment.Config {
	return segment.Config{
		FrameBytes: audio.FrameBytes(c.FramesPerBuffer, audio.Channels),
		MinFrames:  c.MinSpeechFrames,
		MinGap:     c.MinSilenceGap,
		MaxGap:     c.MaxSilenceGap,
		MaxBytes:   c.MaxSegmentBytes,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		slog.Warn("ignoring invalid integer", "key", key, "value", v)
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("ignoring invalid number", "key", key, "value", v)
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}

// Recorder captures microphone audio, detects speech with an adaptive energy
// threshold and writes each finished utterance to a FLAC or WAV file.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/good-listener/recorder/internal/audio"
	"github.com/good-listener/recorder/internal/config"
	"github.com/good-listener/recorder/internal/encoder"
	apperrors "github.com/good-listener/recorder/internal/errors"
	"github.com/good-listener/recorder/internal/observe"
	"github.com/good-listener/recorder/internal/recorder"
	"github.com/good-listener/recorder/internal/resilience"
	"github.com/good-listener/recorder/internal/trace"
)

var version = "dev"

// abortGrace is how long a cancelled cycle may stay blocked in a read before
// the stream is aborted underneath it.
const abortGrace = 2 * time.Second

type source interface {
	recorder.Source
	io.Closer
}

// aborter is a source whose blocked read can be interrupted from another
// goroutine. Close stays with the goroutine that owns the source.
type aborter interface {
	Abort() error
}

// mediaClock is a source that keeps its own timeline, such as a file replay.
type mediaClock interface {
	Now() time.Time
}

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	lvl, _ := cfg.SlogLevel()
	level.Set(lvl)

	provider, err := observe.NewProvider("recorder", version)
	if err != nil {
		slog.Error("failed to set up metrics", "error", err)
		os.Exit(1)
	}
	metrics, err := observe.NewMetrics(provider.MeterProvider())
	if err != nil {
		slog.Error("failed to create metric instruments", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, _ = trace.EnsureContext(ctx)

	runErr := run(ctx, cfg, metrics)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if summary, err := provider.Summary(shutdownCtx); err != nil {
		slog.Warn("failed to collect metrics", "error", err)
	} else {
		trace.Logger(ctx, nil).Info("recorder stopped", "summary", summary)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics shutdown error", "error", err)
	}

	if runErr != nil {
		slog.Error("recorder failed", "error", runErr)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) error {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.RetryMax
	retryCfg.BaseDelay = cfg.RetryBaseDelay
	retryCfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		slog.Warn("retrying after failure", "attempt", attempt, "delay", delay, "error", err)
	}

	src, err := openSource(ctx, cfg, retryCfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return record(gctx, cfg, src, metrics, retryCfg)
	})

	g.Go(func() error {
		watchShutdown(gctx, done, src, abortGrace)
		return nil
	})

	err = g.Wait()
	if cerr := src.Close(); cerr != nil && err == nil {
		slog.Warn("failed to close source", "error", cerr)
	}
	return err
}

// watchShutdown waits for ctx to end while the cycle loop is running. A device
// that stops delivering frames leaves the read blocked, so the stream is
// aborted if the loop has not finished within grace.
func watchShutdown(ctx context.Context, done <-chan struct{}, src recorder.Source, grace time.Duration) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	slog.Info("shutting down...")
	select {
	case <-done:
	case <-time.After(grace):
		if a, ok := src.(aborter); ok {
			slog.Warn("capture did not stop in time, aborting stream")
			_ = a.Abort()
		}
	}
}

func openSource(ctx context.Context, cfg *config.Config, retryCfg resilience.RetryConfig) (source, error) {
	if cfg.InputFile != "" {
		src, err := audio.OpenWAV(cfg.InputFile, cfg.FramesPerBuffer)
		if err != nil {
			return nil, err
		}
		slog.Info("replaying input file", "path", cfg.InputFile)
		return src, nil
	}

	var src *audio.PortAudioSource
	err := resilience.Retry(ctx, retryCfg, func() error {
		var err error
		src, err = audio.OpenPortAudio(audio.DeviceConfig{
			Device:          cfg.AudioDevice,
			ExcludedDevices: cfg.ExcludedAudioDevices,
			FramesPerBuffer: cfg.FramesPerBuffer,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

// record runs cycles until the configured number of segments is reached,
// the input ends or ctx is cancelled.
func record(ctx context.Context, cfg *config.Config, src recorder.Source, metrics *observe.Metrics, retryCfg resilience.RetryConfig) error {
	recCfg := recorder.Config{VAD: cfg.VAD(), Segment: cfg.Segment()}
	var clock []recorder.Option
	if mc, ok := src.(mediaClock); ok {
		clock = append(clock, recorder.WithClock(mc.Now))
	}

	for n := 0; cfg.Segments == 0 || n < cfg.Segments; n++ {
		cctx, span := trace.StartSpan(ctx, "cycle")
		log := trace.Logger(cctx, nil)

		path := segmentPath(cfg.OutputPath, cfg.Format(), span.Ctx.SpanID, cfg.Segments != 1)
		sink, err := encoder.New(cfg.Format(), path)
		if err != nil {
			return err
		}
		opts := append([]recorder.Option{recorder.WithLogger(log), recorder.WithMetrics(metrics)}, clock...)
		sess, err := recorder.New(recCfg, src, sink, opts...)
		if err != nil {
			return err
		}

		log.Info("listening", "cycle", n+1, "output", path)
		var res recorder.Result
		err = resilience.Retry(cctx, retryCfg, func() error {
			var err error
			res, err = sess.Run(cctx)
			return err
		})
		span.SetAttr("frames_read", sess.FramesSeen())
		span.End()

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			log.Info("input ended", "span", span)
			return nil
		case apperrors.IsCode(err, apperrors.Cancelled), errors.Is(err, context.Canceled):
			log.Info("recording stopped", "span", span)
			return nil
		default:
			return err
		}

		span.SetAttr("frames", res.Segment.Frames)
		if res.Err != nil {
			log.Error("cycle finished without output", "span", span, "error", res.Err)
			continue
		}
		span.SetAttr("bytes", res.Written)
		log.Info("cycle complete", "span", span, "path", path)
	}
	return nil
}

// segmentPath returns base unchanged for a single-segment run. Otherwise id
// is inserted before the extension so every segment gets its own file.
func segmentPath(base string, format encoder.Format, id string, multi bool) string {
	if !multi {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = format.Ext()
	}
	return stem + "-" + id + ext
}

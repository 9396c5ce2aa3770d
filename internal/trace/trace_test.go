package trace

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewContext(t *testing.T) {
	ctx := New()
	if _, err := uuid.Parse(ctx.RunID); err != nil {
		t.Errorf("run ID %q is not a uuid: %v", ctx.RunID, err)
	}
	if _, err := uuid.Parse(ctx.SpanID); err != nil {
		t.Errorf("span ID %q is not a uuid: %v", ctx.SpanID, err)
	}
	if ctx.ParentSpanID != "" {
		t.Error("new context should not have parent span ID")
	}
}

func TestIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New().SpanID
		if seen[id] {
			t.Error("generated duplicate span ID")
		}
		seen[id] = true
	}
}

func TestNewChild(t *testing.T) {
	parent := New()
	child := NewChild(parent)

	if child.RunID != parent.RunID {
		t.Error("child should inherit run ID")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should have new span ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child's parent should be parent's span ID")
	}
}

func TestContextPropagation(t *testing.T) {
	tc := New()
	ctx := WithContext(context.Background(), tc)

	extracted, ok := FromContext(ctx)
	if !ok {
		t.Fatal("should extract trace context")
	}
	if extracted.RunID != tc.RunID {
		t.Error("extracted run ID mismatch")
	}
}

func TestFromContextMissing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("should not find trace context in empty context")
	}
}

func TestEnsureContext(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	if tc.RunID == "" {
		t.Fatal("should create run ID")
	}

	_, tc2 := EnsureContext(ctx)
	if tc2.RunID != tc.RunID || tc2.SpanID != tc.SpanID {
		t.Error("should return existing context")
	}
}

func TestStartSpan(t *testing.T) {
	_, span := StartSpan(context.Background(), "cycle")

	if span.Name != "cycle" {
		t.Error("span name mismatch")
	}
	if span.StartTime.IsZero() {
		t.Error("span should have start time")
	}
	if span.Duration() != 0 {
		t.Error("open span should report zero duration")
	}

	span.SetAttr("frames", 12)
	time.Sleep(time.Millisecond)
	span.End()

	if span.Duration() <= 0 {
		t.Error("span should have positive duration")
	}
	if span.Attrs["frames"] != 12 {
		t.Error("span attribute mismatch")
	}
}

func TestSpanNested(t *testing.T) {
	ctx, parent := StartSpan(context.Background(), "run")
	_, child := StartSpan(ctx, "cycle")

	if child.Ctx.RunID != parent.Ctx.RunID {
		t.Error("child should inherit run ID")
	}
	if child.Ctx.ParentSpanID != parent.Ctx.SpanID {
		t.Error("child's parent should be parent's span")
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, span := StartSpan(context.Background(), "cycle")
	Logger(ctx, base).Info("segment written")

	out := buf.String()
	if !strings.Contains(out, "run_id="+span.Ctx.RunID) || !strings.Contains(out, "span_id="+span.Ctx.SpanID) {
		t.Errorf("log line missing trace ids: %s", out)
	}
}

func TestLoggerWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	if got := Logger(context.Background(), base); got != base {
		t.Error("Logger should return base unchanged without a trace context")
	}
}

func TestSpanLogValue(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	_, span := StartSpan(context.Background(), "encode")
	span.SetAttr("path", "out.flac")
	span.End()
	log.Info("done", "span", span)

	out := buf.String()
	for _, want := range []string{"span.span_name=encode", "span.path=out.flac", "span.run_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

package report_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sw965/banditformula/expr"
	"github.com/sw965/banditformula/report"
)

func TestScopes(t *testing.T) {
	ctx := report.WithScope(context.Background(), "search")
	inner := report.WithScope(ctx, "iteration")
	assert.Equal(t, "search/iteration", report.ScopePath(inner))
	assert.Equal(t, "search", report.ScopePath(ctx))
	assert.Empty(t, report.ScopePath(context.Background()))
}

func TestSlogReporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := report.NewSlogReporter(logger)

	ctx := r.EnterScope(context.Background(), "search")
	ctx = r.EnterScope(ctx, "iteration")
	r.Result(ctx, report.BestScore, -0.25)
	r.Progress(ctx, 3, 10)
	r.LeaveScope(ctx, "done")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &rec))
	assert.Equal(t, "search/iteration", rec["scope"])
	assert.Equal(t, report.BestScore, rec["name"])
	assert.InDelta(t, -0.25, rec["value"], 1e-12)

	require.NoError(t, json.Unmarshal([]byte(lines[3]), &rec))
	assert.Equal(t, "3/10", rec["progress"])

	require.NoError(t, json.Unmarshal([]byte(lines[4]), &rec))
	assert.Equal(t, "done", rec["result"])
	assert.Contains(t, rec, "elapsed")
}

func TestSlogReporterProgressEvery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := &report.SlogReporter{Logger: logger, ProgressEvery: 5}
	for i := 1; i <= 12; i++ {
		r.Progress(context.Background(), i, 12)
	}
	// 5, 10 and the final step
	assert.Equal(t, 3, strings.Count(buf.String(), "progress="))
}

func TestTracingReporter(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	r := report.NewTracingReporter(tp)
	ctx := r.EnterScope(context.Background(), "search")
	inner := r.EnterScope(ctx, "iteration")
	r.Result(inner, report.BestScore, 1.5)
	r.Progress(inner, 1, 2)
	r.LeaveScope(inner, nil)
	r.LeaveScope(ctx, errors.New("budget exhausted"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "iteration", spans[0].Name())
	assert.Equal(t, "search", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Contains(t, spans[0].Attributes(), attribute.Float64(report.BestScore, 1.5))
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "progress", spans[0].Events()[0].Name)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestMulti(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var buf bytes.Buffer
	m := report.Multi{
		report.NewTracingReporter(tp),
		report.NewSlogReporter(slog.New(slog.NewTextHandler(&buf, nil))),
		report.Nop{},
	}
	ctx := m.EnterScope(context.Background(), "pool")
	m.Result(ctx, report.Evaluations, 7)
	m.LeaveScope(ctx, 7)

	require.Len(t, recorder.Ended(), 1)
	assert.Contains(t, buf.String(), "scope=pool")
	assert.Contains(t, recorder.Ended()[0].Attributes(), attribute.Int(report.Evaluations, 7))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	hits := int64(4)
	m := report.NewMetrics(reg, func() int64 { return hits })

	score := m.CountScores(func(*expr.Node, *rand.Rand) (float64, error) { return 1, nil })
	for i := 0; i < 3; i++ {
		_, err := score(expr.Variable(0), nil)
		require.NoError(t, err)
	}
	assert.InDelta(t, 3, testutil.ToFloat64(m.Evaluations), 0)

	m.Result(context.Background(), report.BestScore, -0.5)
	m.Result(context.Background(), report.BestScore, "ignored")
	assert.InDelta(t, -0.5, testutil.ToFloat64(m.BestScore), 0)

	m.ObserveRegret(2)
	assert.Equal(t, 1, testutil.CollectAndCount(m.EpisodeRegret))

	n, err := testutil.GatherAndCount(reg, "banditformula_cache_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Panics(t, func() { report.NewMetrics(reg, nil) }, "duplicate registration must panic")
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, report.Nop{}, report.OrNop(nil))
	r := report.NewSlogReporter(nil)
	assert.Same(t, r, report.OrNop(r))
}

package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type startKey struct{}

// SlogReporter writes scopes and results as structured log records. Scope
// boundaries and results are logged at Info, progress at Debug.
type SlogReporter struct {
	Logger *slog.Logger
	// ProgressEvery limits progress records to every n-th step. Zero logs
	// every call.
	ProgressEvery int
}

func NewSlogReporter(logger *slog.Logger) *SlogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogReporter{Logger: logger}
}

func (r *SlogReporter) EnterScope(ctx context.Context, name string) context.Context {
	ctx = WithScope(ctx, name)
	ctx = context.WithValue(ctx, startKey{}, time.Now())
	r.Logger.InfoContext(ctx, "開始", slog.String("scope", ScopePath(ctx)))
	return ctx
}

func (r *SlogReporter) LeaveScope(ctx context.Context, result any) {
	attrs := []any{slog.String("scope", ScopePath(ctx))}
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))
	}
	if result != nil {
		attrs = append(attrs, slog.Any("result", result))
	}
	r.Logger.InfoContext(ctx, "終了", attrs...)
}

func (r *SlogReporter) Result(ctx context.Context, name string, value any) {
	r.Logger.InfoContext(ctx, "結果",
		slog.String("scope", ScopePath(ctx)),
		slog.String("name", name),
		slog.Any("value", value),
	)
}

func (r *SlogReporter) Progress(ctx context.Context, done, total int) {
	if r.ProgressEvery > 0 && done%r.ProgressEvery != 0 && done != total {
		return
	}
	r.Logger.DebugContext(ctx, "進捗",
		slog.String("scope", ScopePath(ctx)),
		slog.String("progress", fmt.Sprintf("%d/%d", done, total)),
	)
}

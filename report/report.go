// Package report carries progress and results out of long-running searches.
// Library code only sees the Reporter interface; hosts choose structured
// logging, tracing, or both.
package report

import (
	"context"
	"strings"
)

// Names of the results emitted by the search drivers.
const (
	BestFormula = "best_formula"
	BestScore   = "best_score"
	Evaluations = "evaluations"
	Validation  = "validation_score"
)

// Reporter receives scoped progress from a running search. Scopes nest:
// EnterScope returns a context that must be passed to the matching
// LeaveScope and to the Result and Progress calls made inside the scope.
type Reporter interface {
	EnterScope(ctx context.Context, name string) context.Context
	LeaveScope(ctx context.Context, result any)
	Result(ctx context.Context, name string, value any)
	Progress(ctx context.Context, done, total int)
}

type Nop struct{}

func (Nop) EnterScope(ctx context.Context, _ string) context.Context { return ctx }
func (Nop) LeaveScope(context.Context, any)                           {}
func (Nop) Result(context.Context, string, any)                       {}
func (Nop) Progress(context.Context, int, int)                        {}

func OrNop(r Reporter) Reporter {
	if r == nil {
		return Nop{}
	}
	return r
}

type scopeKey struct{}

// WithScope records name as the innermost scope of ctx.
func WithScope(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, scopeKey{}, append(Scopes(ctx), name))
}

// Scopes returns the scope names of ctx, outermost first.
func Scopes(ctx context.Context) []string {
	s, _ := ctx.Value(scopeKey{}).([]string)
	return s[:len(s):len(s)]
}

// ScopePath joins the scope names of ctx with "/".
func ScopePath(ctx context.Context) string {
	return strings.Join(Scopes(ctx), "/")
}

// Multi forwards every call to each reporter in order. LeaveScope runs in
// reverse order so that nested resources close innermost first.
type Multi []Reporter

func (m Multi) EnterScope(ctx context.Context, name string) context.Context {
	for _, r := range m {
		ctx = r.EnterScope(ctx, name)
	}
	return ctx
}

func (m Multi) LeaveScope(ctx context.Context, result any) {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].LeaveScope(ctx, result)
	}
}

func (m Multi) Result(ctx context.Context, name string, value any) {
	for _, r := range m {
		r.Result(ctx, name, value)
	}
}

func (m Multi) Progress(ctx context.Context, done, total int) {
	for _, r := range m {
		r.Progress(ctx, done, total)
	}
}

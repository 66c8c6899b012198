// Package tracing times the stages of a pass. The pass opens a root span,
// components open children through the context, and the finished tree is
// logged and exported as stage durations.
package tracing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type ctxKey struct{}

// Span is one timed stage. Children may be added from several goroutines.
type Span struct {
	name   string
	passID string
	start  time.Time

	mu       sync.Mutex
	elapsed  time.Duration
	ended    bool
	attrs    map[string]any
	children []*Span
}

func newSpan(name, passID string) *Span {
	return &Span{name: name, passID: passID, start: time.Now(), attrs: make(map[string]any)}
}

// StartSpan opens the root span of a pass.
func StartSpan(ctx context.Context, name, passID string) (context.Context, *Span) {
	s := newSpan(name, passID)
	return context.WithValue(ctx, ctxKey{}, s), s
}

// StartChildSpan opens a span under the one in ctx. Without a parent the
// span is detached and has no pass id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := FromContext(ctx)
	if parent == nil {
		s := newSpan(name, "")
		return context.WithValue(ctx, ctxKey{}, s), s
	}
	s := newSpan(name, parent.passID)
	parent.mu.Lock()
	parent.children = append(parent.children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, ctxKey{}, s), s
}

func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(ctxKey{}).(*Span)
	return s
}

func (s *Span) Name() string   { return s.name }
func (s *Span) PassID() string { return s.passID }

// End stops the clock. Only the first call counts.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.elapsed = time.Since(s.start)
		s.ended = true
	}
}

// Elapsed is the span duration, or the time so far while it is open.
func (s *Span) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s.elapsed
	}
	return time.Since(s.start)
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Walk visits s and its descendants depth first. path joins the span names
// from the root with "/".
func (s *Span) Walk(fn func(path string, depth int, span *Span)) {
	s.walk("", 0, fn)
}

func (s *Span) walk(prefix string, depth int, fn func(string, int, *Span)) {
	path := s.name
	if prefix != "" {
		path = prefix + "/" + s.name
	}
	fn(path, depth, s)
	for _, c := range s.Children() {
		c.walk(path, depth+1, fn)
	}
}

// Log writes one line per span, attributes in key order.
func (s *Span) Log(logger *slog.Logger) {
	s.Walk(func(path string, depth int, span *Span) {
		span.mu.Lock()
		keys := make([]string, 0, len(span.attrs))
		for k := range span.attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		args := []any{"pass_id", span.passID, "span", path, "depth", depth}
		for _, k := range keys {
			args = append(args, k, span.attrs[k])
		}
		span.mu.Unlock()
		args = append(args, "duration_ms", span.Elapsed().Milliseconds())
		logger.Info("span", args...)
	})
}

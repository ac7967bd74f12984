// Package groutine starts goroutines carrying a name in their context and
// pprof labels, so stack dumps and logs show which loop is which.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey struct{}

// Go starts fn on a new goroutine labelled name. A nil parent uses
// context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name given to the goroutine that owns ctx.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}

// Group runs named goroutines under one cancelable context and waits for
// them on Stop.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroup derives the group context from parent.
func NewGroup(parent context.Context) *Group {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Context is canceled by Stop.
func (g *Group) Context() context.Context { return g.ctx }

// Go starts fn as a member of the group.
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(g.ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Stop cancels the group context and waits for every member to return.
// It must not be called from a member goroutine.
func (g *Group) Stop() {
	g.cancel()
	g.wg.Wait()
}

// Cancel cancels the group context without waiting.
func (g *Group) Cancel() { g.cancel() }

// Package batch runs logically independent store operations concurrently
// with "wait for all, fail on first error" semantics.
//
// The first failure cancels the shared context so in-flight siblings stop
// early; their results are discarded and the first error is returned.
// There is no partial-success bookkeeping and no retry.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Op is one member of a batch.
type Op func(ctx context.Context) error

// Group is an errgroup with panic recovery.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

// New creates a Group whose context is cancelled on the first failure.
func New(ctx context.Context) *Group {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx}
}

// Context returns the group context.
func (b *Group) Context() context.Context {
	return b.ctx
}

// Go starts op in its own goroutine. A panic in op is converted to an error.
func (b *Group) Go(op Op) {
	b.g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in batch operation: %v\n%s", r, debug.Stack())
			}
		}()
		return op(b.ctx)
	})
}

// Wait blocks until every member returns, then reports the first error.
func (b *Group) Wait() error {
	return b.g.Wait()
}

// Run executes ops concurrently and returns the first error.
func Run(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	g := New(ctx)
	for _, op := range ops {
		g.Go(op)
	}
	return g.Wait()
}

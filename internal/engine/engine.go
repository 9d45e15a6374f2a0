// Package engine runs one experiment: it wires the store, the dispatch
// fabric and the tasks together, executes them under the threaded or the
// cooperative concurrency model, and materializes the result once every
// task has joined.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/loopbench/internal/config"
	"github.com/sweeney/loopbench/internal/coop"
)

// ErrNoResults is returned when a run finished without recording a cycle.
var ErrNoResults = errors.New("run produced no results")

// TaskFunc is the body of one task.
type TaskFunc func(ctx context.Context, y coop.Yielder) error

// Engine decides how tasks are mapped onto execution resources.
type Engine interface {
	// Mode returns config.ModeThreaded or config.ModeCooperative.
	Mode() string
	// Go starts fn as a task of g.
	Go(g *errgroup.Group, ctx context.Context, fn TaskFunc)
}

// Threaded runs every task on its own OS thread with blocking waits.
type Threaded struct{}

func (Threaded) Mode() string { return config.ModeThreaded }

func (Threaded) Go(g *errgroup.Group, ctx context.Context, fn TaskFunc) {
	g.Go(func() error {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		return fn(ctx, coop.Dedicated{})
	})
}

// Cooperative multiplexes every task over a fixed pool of execution
// contexts. Waits suspend the task and free its context.
type Cooperative struct {
	Pool *coop.Pool
}

// NewCooperative creates a cooperative engine with workers execution contexts.
func NewCooperative(workers int) *Cooperative {
	return &Cooperative{Pool: coop.NewPool(workers)}
}

func (c *Cooperative) Mode() string { return config.ModeCooperative }

func (c *Cooperative) Go(g *errgroup.Group, ctx context.Context, fn TaskFunc) {
	g.Go(func() error {
		// Entered without ctx: a task started late must still run its
		// shutdown path.
		t, err := c.Pool.Enter(context.Background())
		if err != nil {
			return fmt.Errorf("enter pool: %w", err)
		}
		defer t.Exit()
		return fn(ctx, t)
	})
}

// New returns the engine for a single mode.
func New(mode string, workers int) (Engine, error) {
	switch mode {
	case config.ModeThreaded:
		return Threaded{}, nil
	case config.ModeCooperative:
		return NewCooperative(workers), nil
	}
	return nil, fmt.Errorf("%w: engine mode %q", config.ErrInvalid, mode)
}

// Modes expands a run-mode selector into the modes to run, in order.
func Modes(selector string) ([]string, error) {
	switch selector {
	case config.ModeThreaded, config.ModeCooperative:
		return []string{selector}, nil
	case config.ModeBoth:
		return []string{config.ModeThreaded, config.ModeCooperative}, nil
	}
	return nil, fmt.Errorf("%w: run mode %q", config.ErrInvalid, selector)
}

// guard converts a panic in fn into an error and calls fail with any error
// fn returns.
func guard(name string, fn TaskFunc, fail func(error)) TaskFunc {
	return func(ctx context.Context, y coop.Yielder) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v\n%s", name, r, debug.Stack())
			}
			if err != nil {
				fail(err)
			}
		}()
		return fn(ctx, y)
	}
}

package playback

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/frostbyte73/core"
)

// Task runs a function on a fixed interval until it is stopped or its
// context ends. A panic in the function is logged and the task keeps running.
//
// The zero value is not usable; use [Every]. A nil *Task is a valid, already
// stopped task.
type Task struct {
	name    string
	stopped core.Fuse
	done    chan struct{}
}

// Every starts a task that calls fn every interval, measured with clk. The
// first call happens one interval after Every returns.
func Every(ctx context.Context, clk clock.Clock, name string, interval time.Duration, fn func(context.Context)) *Task {
	t := &Task{
		name: name,
		done: make(chan struct{}),
	}
	ticker := clk.Ticker(interval)
	go t.loop(ctx, ticker, fn)
	return t
}

func (t *Task) loop(ctx context.Context, ticker *clock.Ticker, fn func(context.Context)) {
	defer close(t.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopped.Watch():
			return
		case <-ticker.C:
			if t.stopped.IsBroken() || ctx.Err() != nil {
				return
			}
			t.run(ctx, fn)
		}
	}
}

func (t *Task) run(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("playback: task panicked", "task", t.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn(ctx)
}

// Stop ends the task. It does not wait for a running call to return; use
// [Task.Done] for that. Safe to call more than once.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.stopped.Break()
}

// Done is closed once the task's goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	if t == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return t.done
}

// Stopped reports whether Stop was called.
func (t *Task) Stopped() bool {
	return t == nil || t.stopped.IsBroken()
}

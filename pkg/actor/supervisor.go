package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultRestartDelay is the pause between a failed run and its restart.
const DefaultRestartDelay = 250 * time.Millisecond

// RunFunc is one run of an actor. Returning nil means the actor stopped on
// request; any error is a failed run.
type RunFunc func(ctx context.Context) error

// Supervise calls run until it returns nil or ctx ends, restarting it after
// every failure. Panics inside run are recovered and treated as failures.
// There is no retry limit. It returns nil after a clean stop and ctx.Err()
// after cancellation.
func Supervise(ctx context.Context, name string, l hclog.Logger, restartDelay time.Duration, run RunFunc) error {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	if restartDelay < 0 {
		restartDelay = 0
	}

	for restart := 0; ; restart++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.Debug("Starting actor", "actor", name, "restart", restart)
		err := protect(ctx, run)
		if err == nil {
			l.Info("Actor stopped", "actor", name)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.Error("Actor failed, restarting", "actor", name, "restart", restart, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartDelay):
		}
	}
}

func protect(ctx context.Context, run RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx)
}

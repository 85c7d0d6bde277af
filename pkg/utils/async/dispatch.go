package async

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/m-mizutani/ctxlog"
	"github.com/secmon-lab/harrier/pkg/utils/apperr"
)

// Dispatch executes a handler function asynchronously with panic recovery.
// This allows HTTP handlers to respond immediately while notification and
// triage work continues in background.
func Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	// Create a new background context preserving important values
	newCtx := newBackgroundContext(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				ctxlog.From(newCtx).Error("Panic in async handler",
					"recover", r,
					"stack", string(stack),
				)
			}
		}()

		if err := handler(newCtx); err != nil {
			apperr.Handle(newCtx, err)
		}
	}()
}

// DispatchTracked runs the handler like Dispatch and counts it on wg, so
// short-lived callers can drain background work before exiting.
func DispatchTracked(ctx context.Context, wg *sync.WaitGroup, handler func(ctx context.Context) error) {
	wg.Add(1)
	Dispatch(ctx, func(ctx context.Context) error {
		defer wg.Done()
		return handler(ctx)
	})
}

// newBackgroundContext creates a new background context preserving important
// values. The handler must not inherit the request context: it outlives the
// request and would be cancelled with it.
func newBackgroundContext(ctx context.Context) context.Context {
	newCtx := context.Background()

	// Preserve logger
	logger := ctxlog.From(ctx)
	if logger != nil {
		newCtx = ctxlog.With(newCtx, logger)
	}

	return newCtx
}

// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context derived from ctx1 that is also canceled
// when ctx2 is done. Values come from ctx1 only, which is what chromedp needs:
// ctx1 carries the tab, ctx2 carries the operation deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()
	return combinedCtx, cancel
}

// valueOnlyContext inherits values from its parent but never its deadline or
// cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that keeps ctx's values but is not canceled with
// it. The browser process is parented on a detached context so an interrupt
// does not kill it before Shutdown has run.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}

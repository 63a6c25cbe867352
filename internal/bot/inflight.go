package bot

import (
	"context"
	"sync"
)

// inflight tracks running update handlers so Stop can drain them. Handler
// contexts hang off a base that only drain cancels, so a cancelled poll loop
// does not abort replies that are already being produced.
type inflight struct {
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func newInflight(parent context.Context) *inflight {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &inflight{ctx: ctx, cancel: cancel}
}

// add registers one handler. It returns false once drain has started.
func (f *inflight) add() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopping {
		return false
	}
	f.wg.Add(1)
	return true
}

func (f *inflight) done() {
	f.wg.Done()
}

func (f *inflight) context() context.Context {
	return f.ctx
}

// drain refuses new handlers and waits for running ones until ctx expires.
// Handler contexts are cancelled on return either way.
func (f *inflight) drain(ctx context.Context) error {
	f.mu.Lock()
	f.stopping = true
	f.mu.Unlock()
	defer f.cancel()

	finished := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(finished)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-finished:
		return nil
	}
}

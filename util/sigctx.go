package util

import (
	"context"
	"os"
	"os/signal"
	"time"
)

// shutdownDelay gives in-flight log writes a brief window to flush before
// cancellation propagates.
const shutdownDelay = 100 * time.Millisecond

// SignalContext returns a context that is canceled shortly after any of
// the given signals is received.
func SignalContext(ctx context.Context, sigs ...os.Signal) context.Context {
	sch := make(chan os.Signal, 1)
	sub, cancel := context.WithCancel(ctx)
	signal.Notify(sch, sigs...)

	go func() {
		select {
		case <-sub.Done():
		case <-sch:
			time.Sleep(shutdownDelay)
			cancel()
		}
	}()

	return sub
}

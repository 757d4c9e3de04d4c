package app

import (
	"context"
	"fmt"
	"time"

	"ftx/internal/webrtc"
)

// waitForStream waits for the data channel to open, giving up early when the
// peer connection fails or timeout passes.
func waitForStream(ctx context.Context, pending *webrtc.PendingStream, failed <-chan error, timeout time.Duration) (*webrtc.DataStream, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timeoutCtx, cancelTimeout := context.WithTimeoutCause(ctx, timeout, fmt.Errorf("data channel did not open within %s", timeout))
	defer cancelTimeout()
	openCtx, cancelOpen := context.WithCancelCause(timeoutCtx)
	defer cancelOpen(nil)

	go func() {
		select {
		case err := <-failed:
			cancelOpen(err)
		case <-openCtx.Done():
		}
	}()

	stream, err := pending.Wait(openCtx)
	if err != nil {
		if ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %w", err, context.Cause(openCtx))
		}
		return nil, err
	}
	return stream, nil
}

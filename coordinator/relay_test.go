package coordinator

import (
	"context"
	"testing"
	"time"
)

func TestWaitReturnsWithQueuedActions(t *testing.T) {
	env := newTestEnv(t, 1800*time.Second)
	env.coord.syncActions = false

	ctx, cancel := context.WithCancel(context.Background())
	env.coord.Start(ctx)

	// One action in flight before shutdown and one racing it: Wait must
	// return either way, with the queued action drained, not stranded.
	env.coord.spawnAction("order-a", "claim", "src-chain", func(context.Context) {})
	cancel()
	env.coord.spawnAction("order-b", "refund", "dst-chain", func(context.Context) {})

	done := make(chan struct{})
	go func() {
		env.coord.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after cancellation with queued actions")
	}
}

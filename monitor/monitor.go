// Package monitor turns native ledger activity into the normalized event
// stream the coordinator consumes. One monitor runs per ledger adapter as
// its own goroutine; monitors share no state with each other. Delivery is
// at-least-once: the checkpoint only advances after every event in a
// batch has been forwarded, and the consumer is idempotent.
package monitor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/photon-storage/go-common/log"

	"github.com/chainrelay/swap-coordinator/ledger"
	"github.com/chainrelay/swap-coordinator/store"
)

// Handler consumes normalized events.
type Handler interface {
	HandleEvent(ctx context.Context, ev ledger.Event) error
}

// Monitor polls one ledger adapter and forwards finalized events.
type Monitor struct {
	adapter      ledger.Adapter
	checkpoints  store.Checkpoints
	events       store.Events
	handler      Handler
	pollInterval time.Duration
	bo           *backoff.ExponentialBackOff
}

// New returns a monitor for the given adapter.
func New(
	adapter ledger.Adapter,
	checkpoints store.Checkpoints,
	events store.Events,
	handler Handler,
	pollInterval time.Duration,
) *Monitor {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0 // retry forever; the checkpoint holds position

	return &Monitor{
		adapter:      adapter,
		checkpoints:  checkpoints,
		events:       events,
		handler:      handler,
		pollInterval: pollInterval,
		bo:           bo,
	}
}

// Run executes the poll loop until ctx is cancelled. Transient fetch
// failures back off without advancing the checkpoint, so no events are
// lost across restarts.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
		}

		if err := m.Poll(ctx); err != nil {
			wait := m.bo.NextBackOff()
			log.Error("ledger poll failed",
				"ledger", m.adapter.LedgerID(),
				"retry_in", wait,
				"error", err,
			)
			monitorPollFailures.WithLabelValues(m.adapter.LedgerID()).Inc()

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			continue
		}

		m.bo.Reset()
	}
}

// Poll runs a single fetch-forward-checkpoint cycle.
func (m *Monitor) Poll(ctx context.Context) error {
	ledgerID := m.adapter.LedgerID()
	cursor, err := m.checkpoints.Load(ctx, ledgerID)
	if err != nil {
		return err
	}

	events, next, err := m.adapter.Events(ctx, cursor)
	if err != nil {
		return err
	}

	for _, ev := range events {
		seen, err := m.events.Seen(
			ctx, ev.LedgerID, ev.NativeID, ev.Type.String(), ev.Cursor,
		)
		if err != nil {
			return err
		}

		if seen {
			monitorDuplicates.WithLabelValues(ledgerID, ev.Type.String()).Inc()
			continue
		}

		if err := m.handler.HandleEvent(ctx, ev); err != nil {
			// Abort without recording or advancing the checkpoint: the
			// next cycle refetches the batch and re-delivers this event.
			// The prefix already handled is recorded and skips.
			return err
		}

		// Record only after the consumer accepted the event. A crash in
		// between re-delivers it; the coordinator's CAS transitions make
		// the second application a no-op.
		if _, err := m.events.MarkProcessed(
			ctx, ev.LedgerID, ev.NativeID, ev.Type.String(), ev.Cursor,
		); err != nil {
			return err
		}

		monitorEvents.WithLabelValues(ledgerID, ev.Type.String()).Inc()
	}

	if next != cursor {
		return m.checkpoints.Save(ctx, ledgerID, next)
	}

	return nil
}

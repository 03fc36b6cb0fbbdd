package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/chainrelay/swap-coordinator/commit"
	"github.com/chainrelay/swap-coordinator/ledger"
	"github.com/chainrelay/swap-coordinator/ledger/sim"
	"github.com/chainrelay/swap-coordinator/store"
)

type recordingHandler struct {
	events []ledger.Event
	fail   bool
}

func (h *recordingHandler) HandleEvent(_ context.Context, ev ledger.Event) error {
	if h.fail {
		return errors.New("handler unavailable")
	}

	h.events = append(h.events, ev)
	return nil
}

func lockOne(t *testing.T, l *sim.Ledger, secret []byte) string {
	t.Helper()

	hashlock, err := commit.Commit(secret, l.HashAlgorithm())
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	l.SetNow(1000)
	nativeID, err := l.Lock(context.Background(), ledger.LockParams{
		Receiver:       "resolver",
		Asset:          "TOK",
		Amount:         500,
		Hashlock:       hashlock,
		TimelockExpiry: 5000,
	})
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	return nativeID
}

func TestPollForwardsAndCheckpoints(t *testing.T) {
	ctx := context.Background()
	l := sim.New("sim-a", commit.SHA256)
	db := store.NewMemoryStore()
	h := &recordingHandler{}
	m := New(l, db, db, h, time.Second)

	secret := make([]byte, commit.SecretSize)
	nativeID := lockOne(t, l, secret)

	if err := m.Poll(ctx); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if len(h.events) != 1 {
		t.Fatalf("forwarded %d events, want 1", len(h.events))
	}

	if h.events[0].Type != ledger.EventLocked || h.events[0].NativeID != nativeID {
		t.Errorf("unexpected event %+v", h.events[0])
	}

	cursor, err := db.Load(ctx, "sim-a")
	if err != nil {
		t.Fatalf("load checkpoint failed: %v", err)
	}

	if cursor != 1 {
		t.Errorf("checkpoint = %d, want 1", cursor)
	}

	// A second cycle with no fresh activity forwards nothing.
	if err := m.Poll(ctx); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if len(h.events) != 1 {
		t.Errorf("idle poll forwarded %d extra events", len(h.events)-1)
	}
}

func TestPollDeduplicatesReplay(t *testing.T) {
	ctx := context.Background()
	l := sim.New("sim-a", commit.SHA256)
	db := store.NewMemoryStore()
	h := &recordingHandler{}
	m := New(l, db, db, h, time.Second)

	lockOne(t, l, make([]byte, commit.SecretSize))

	if err := m.Poll(ctx); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	// Rewind the checkpoint to simulate a crash after forwarding but
	// before the cursor was persisted. The replayed event must be
	// swallowed by the idempotency guard.
	if err := db.Save(ctx, "sim-a", 0); err != nil {
		t.Fatalf("rewind checkpoint failed: %v", err)
	}

	if err := m.Poll(ctx); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if len(h.events) != 1 {
		t.Errorf("replay forwarded %d events, want 1", len(h.events))
	}
}

func TestPollRedeliversAfterHandlerFailure(t *testing.T) {
	ctx := context.Background()
	l := sim.New("sim-a", commit.SHA256)
	db := store.NewMemoryStore()
	h := &recordingHandler{fail: true}
	m := New(l, db, db, h, time.Second)

	lockOne(t, l, make([]byte, commit.SecretSize))

	if err := m.Poll(ctx); err == nil {
		t.Fatal("expected poll to surface the handler failure")
	}

	cursor, err := db.Load(ctx, "sim-a")
	if err != nil {
		t.Fatalf("load checkpoint failed: %v", err)
	}

	if cursor != 0 {
		t.Errorf("checkpoint advanced to %d past an unhandled event", cursor)
	}

	// The consumer recovers; the next cycle must deliver the event it
	// rejected, not skip it as a duplicate.
	h.fail = false
	if err := m.Poll(ctx); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if len(h.events) != 1 {
		t.Fatalf("delivered %d events after handler recovery, want 1", len(h.events))
	}
}

func TestPollTransientFailureKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	l := sim.New("sim-a", commit.SHA256)
	db := store.NewMemoryStore()
	h := &recordingHandler{}
	m := New(l, db, db, h, time.Second)

	lockOne(t, l, make([]byte, commit.SecretSize))

	l.FailNext(1)
	if err := m.Poll(ctx); err == nil {
		t.Fatal("expected transient poll failure")
	}

	cursor, err := db.Load(ctx, "sim-a")
	if err != nil {
		t.Fatalf("load checkpoint failed: %v", err)
	}

	if cursor != 0 {
		t.Errorf("checkpoint advanced to %d on failure", cursor)
	}

	// The retry picks the event up.
	if err := m.Poll(ctx); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if len(h.events) != 1 {
		t.Errorf("forwarded %d events after retry, want 1", len(h.events))
	}
}

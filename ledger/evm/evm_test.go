package evm

import "testing"

func TestEventCursor(t *testing.T) {
	testCases := []struct {
		name   string
		blockA uint64
		indexA uint
		blockB uint64
		indexB uint
	}{
		{
			// Two partial claims of one lock can land in a single block;
			// their cursors must stay distinct.
			name:   "same block different log index",
			blockA: 19_000_000,
			indexA: 3,
			blockB: 19_000_000,
			indexB: 4,
		},
		{
			name:   "later block outranks any log index",
			blockA: 19_000_000,
			indexA: 65_000,
			blockB: 19_000_001,
			indexB: 0,
		},
	}
	for _, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			a := eventCursor(c.blockA, c.indexA)
			b := eventCursor(c.blockB, c.indexB)
			if a == b {
				t.Fatalf("cursors collide at %d", a)
			}

			if a >= b {
				t.Errorf("cursor ordering broken: %d >= %d", a, b)
			}
		})
	}
}

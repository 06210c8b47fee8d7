package store

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/repairsync/internal/ledger"
)

// history is two requests' events in ledger order. Several events share a
// timestamp and block, so only the log index orders them.
func history() []ledger.Event {
	second := created(2, 100, 1)
	second.Index = 1
	second.Initiator = other

	rejected := statusChanged(2, ledger.StatusPending, ledger.StatusRejected, 200, 2, 2)
	rejected.Initiator = other

	describe := hashUpdated(ledger.EventDescriptionUpdated, 1, "H1", "H2", 200, 2)
	work1 := hashUpdated(ledger.EventWorkDetailsUpdated, 1, "", "W1", 300, 3)
	work2 := hashUpdated(ledger.EventWorkDetailsUpdated, 1, "W1", "W2", 300, 3)
	work2.Index = 1

	return []ledger.Event{
		created(1, 100, 1),
		second,
		describe,
		statusChanged(1, ledger.StatusPending, ledger.StatusInProgress, 200, 2, 1),
		rejected,
		work1,
		work2,
		statusChanged(1, ledger.StatusInProgress, ledger.StatusCompleted, 400, 4, 0),
	}
}

func project(t *testing.T, arrivals []ledger.Event) map[uint64]Record {
	t.Helper()
	s := createTestStore(t)
	for _, e := range arrivals {
		mustApply(t, s, e)
	}
	out := make(map[uint64]Record)
	for _, id := range []uint64{1, 2} {
		r, err := s.ReadByID(context.Background(), id)
		require.NoError(t, err)
		out[id] = r
	}
	return out
}

func TestApply_ArrivalOrderDoesNotMatter(t *testing.T) {
	events := history()
	want := project(t, events)
	require.Equal(t, ledger.StatusCompleted, want[1].Status)
	require.Equal(t, "H2", want[1].DescriptionHash)
	require.Equal(t, "W2", want[1].WorkDetailsHash)
	require.Equal(t, ledger.StatusRejected, want[2].Status)

	reversed := make([]ledger.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		reversed = append(reversed, events[i])
	}
	require.Equal(t, want, project(t, reversed), "creation events last")

	for seed := uint64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*104729))

		arrivals := append([]ledger.Event(nil), events...)
		// Redeliver a random subset, as backfill overlapping the live
		// stream would.
		for _, e := range events {
			if rng.IntN(2) == 0 {
				arrivals = append(arrivals, e)
			}
		}
		rng.Shuffle(len(arrivals), func(i, j int) {
			arrivals[i], arrivals[j] = arrivals[j], arrivals[i]
		})

		require.Equal(t, want, project(t, arrivals), "seed %d", seed)
	}
}

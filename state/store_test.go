// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state_test

import (
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSnapshot(id string) state.Snapshot {
	return state.Snapshot{
		AuctionID:     id,
		Status:        state.StatusActive,
		Currency:      "USD",
		StartingPrice: decimal.RequireFromString("100"),
		CurrentPrice:  decimal.RequireFromString("100"),
		LastHash:      ledger.Genesis(id),
	}
}

func bidEvent(id string, seq uint64, bidder string, amount string, accepted bool) ledger.Event {
	evt := ledger.Event{
		AuctionID:  id,
		Seq:        seq,
		BidderID:   bidder,
		Amount:     decimal.RequireFromString(amount),
		Type:       ledger.EventTypeBidAccepted,
		HashCurr:   []byte{byte(seq)},
		ServerTime: time.Unix(int64(seq), 0).UTC(),
	}
	if !accepted {
		evt.Type = ledger.EventTypeBidRejected
		evt.ReasonCode = ledger.ReasonPriceTooLow
	}
	return evt
}

func TestApplyMovesPriceOnlyOnAccept(t *testing.T) {
	s := state.NewStore()
	s.Put(baseSnapshot("A1"))

	snap, changed := s.Apply(bidEvent("A1", 1, "u1", "110", true))
	require.True(t, changed)
	assert.Equal(t, "110", snap.CurrentPrice.String())
	assert.Equal(t, "u1", snap.LeadingBidderID)
	assert.Equal(t, uint64(1), snap.LastSeq)

	snap, changed = s.Apply(bidEvent("A1", 2, "u2", "105", false))
	require.True(t, changed)
	assert.Equal(t, "110", snap.CurrentPrice.String())
	assert.Equal(t, "u1", snap.LeadingBidderID)
	assert.Equal(t, uint64(2), snap.LastSeq)
	assert.Equal(t, []byte{2}, snap.LastHash)
	assert.Equal(t, uint64(1), snap.BidCount)
}

func TestApplyIdempotent(t *testing.T) {
	s := state.NewStore()
	s.Put(baseSnapshot("A1"))
	e1 := bidEvent("A1", 1, "u1", "110", true)
	e2 := bidEvent("A1", 2, "u2", "120", true)
	s.Apply(e1)
	first, _ := s.Apply(e2)

	for _, evt := range []ledger.Event{e1, e2, e1} {
		snap, changed := s.Apply(evt)
		assert.False(t, changed)
		assert.Equal(t, first, snap)
	}
}

func TestApplyUnknownAuction(t *testing.T) {
	s := state.NewStore()
	_, changed := s.Apply(bidEvent("A1", 1, "u1", "110", true))
	assert.False(t, changed)
	_, ok := s.Get("A1")
	assert.False(t, ok)
}

func TestFoldMatchesApply(t *testing.T) {
	events := []ledger.Event{
		bidEvent("A1", 1, "u1", "110", true),
		bidEvent("A1", 2, "u2", "105", false),
		bidEvent("A1", 3, "u2", "120", true),
	}
	s := state.NewStore()
	s.Put(baseSnapshot("A1"))
	for _, evt := range events {
		s.Apply(evt)
	}
	applied, _ := s.Get("A1")
	folded := state.Fold(baseSnapshot("A1"), events...)
	assert.Equal(t, applied, folded)

	// Folding from a checkpoint gives the same result
	checkpoint := state.Fold(baseSnapshot("A1"), events[:2]...)
	assert.Equal(t, folded, state.Fold(checkpoint, events...))
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := state.NewStore()
	s.Put(baseSnapshot("A1"))
	snap, _ := s.Get("A1")
	snap.LastHash[0] ^= 0xff
	snap.CurrentPrice = decimal.RequireFromString("999")
	again, _ := s.Get("A1")
	assert.Equal(t, ledger.Genesis("A1"), again.LastHash)
	assert.Equal(t, "100", again.CurrentPrice.String())
}

func TestApplyStatus(t *testing.T) {
	s := state.NewStore()
	snap := baseSnapshot("A1")
	snap.Status = state.StatusPending
	s.Put(snap)
	now := time.Now().UTC()

	got, err := s.ApplyStatus("A1", state.StatusActive, now)
	require.NoError(t, err)
	require.NotNil(t, got.OpenedAt)
	got, err = s.ApplyStatus("A1", state.StatusPaused, now)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPaused, got.Status)
	_, err = s.ApplyStatus("A1", state.StatusPaused, now)
	require.ErrorIs(t, err, state.ErrInvalidTransition)
	got, err = s.ApplyStatus("A1", state.StatusEnded, now)
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)
	// Failed transitions leave the version alone
	assert.Equal(t, uint64(3), got.StatusVersion)
	_, err = s.ApplyStatus("A1", state.StatusActive, now)
	require.ErrorIs(t, err, state.ErrInvalidTransition)
	_, err = s.ApplyStatus("A2", state.StatusActive, now)
	require.ErrorIs(t, err, state.ErrAuctionNotFound)
}

func TestStatusTransitions(t *testing.T) {
	testDefs := []struct {
		from, to state.Status
		ok       bool
	}{
		{state.StatusPending, state.StatusActive, true},
		{state.StatusPending, state.StatusPaused, false},
		{state.StatusActive, state.StatusPaused, true},
		{state.StatusPaused, state.StatusActive, true},
		{state.StatusActive, state.StatusEnded, true},
		{state.StatusPaused, state.StatusEnded, true},
		{state.StatusEnded, state.StatusActive, false},
		{state.StatusActive, state.StatusPending, false},
	}
	for _, testDef := range testDefs {
		assert.Equal(
			t,
			testDef.ok,
			testDef.from.CanTransitionTo(testDef.to),
			"%s -> %s",
			testDef.from,
			testDef.to,
		)
	}
}

func TestListAndRemove(t *testing.T) {
	s := state.NewStore()
	s.Put(baseSnapshot("B"))
	s.Put(baseSnapshot("A"))
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].AuctionID)
	s.Remove("A")
	assert.Len(t, s.List(), 1)
}

func TestConcurrentReadsDuringApply(t *testing.T) {
	s := state.NewStore()
	s.Put(baseSnapshot("A1"))
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeq uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, ok := s.Get("A1")
				if !ok {
					continue
				}
				// Readers never see the sequence go backwards
				if snap.LastSeq < lastSeq {
					t.Errorf("seq went backwards: %d < %d", snap.LastSeq, lastSeq)
					return
				}
				lastSeq = snap.LastSeq
			}
		}()
	}
	for i := uint64(1); i <= 500; i++ {
		s.Apply(bidEvent("A1", i, "u1", decimal.NewFromInt(int64(100+i)).String(), true))
	}
	close(stop)
	wg.Wait()
	snap, _ := s.Get("A1")
	assert.Equal(t, uint64(500), snap.LastSeq)
	assert.Equal(t, "600", snap.CurrentPrice.String())
}

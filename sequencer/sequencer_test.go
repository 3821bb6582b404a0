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

package sequencer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/auctioneer/database"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/sequencer"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	events   []ledger.Event
	statuses []state.Snapshot
}

func (p *recordingPublisher) PublishEvent(evt ledger.Event, _ state.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) PublishStatus(_ state.Status, snap state.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, snap)
}

func (p *recordingPublisher) Events() []ledger.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ledger.Event(nil), p.events...)
}

type testEnv struct {
	db        *database.Database
	ledger    *ledger.Ledger
	seq       *sequencer.Sequencer
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T, dataDir string, modify func(*sequencer.Config)) *testEnv {
	t.Helper()
	db, err := database.New(&database.Config{DataDir: dataDir})
	require.NoError(t, err)
	l, err := ledger.New(db, nil)
	require.NoError(t, err)
	pub := &recordingPublisher{}
	cfg := sequencer.Config{
		Ledger:       l,
		State:        state.NewStore(),
		Publisher:    pub,
		PromRegistry: prometheus.NewRegistry(),
	}
	if modify != nil {
		modify(&cfg)
	}
	seq, err := sequencer.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		seq.Stop()
		_ = db.Close()
	})
	return &testEnv{db: db, ledger: l, seq: seq, publisher: pub}
}

func (e *testEnv) createActive(t *testing.T, id string, price string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.seq.CreateAuction(ctx, sequencer.AuctionSpec{
		ID:            id,
		SellerID:      "seller",
		StartingPrice: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	_, err = e.seq.OpenAuction(ctx, id)
	require.NoError(t, err)
}

func bid(auctionID string, bidder string, amount string) sequencer.BidRequest {
	return sequencer.BidRequest{
		AuctionID: auctionID,
		BidderID:  bidder,
		Amount:    decimal.RequireFromString(amount),
		Channel:   "web",
	}
}

func TestScenarioAcceptRejectAndPause(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()
	env.createActive(t, "A1", "1000")

	evt, err := env.seq.SubmitBid(ctx, bid("A1", "7", "1050"))
	require.NoError(t, err)
	assert.Equal(t, ledger.EventTypeBidAccepted, evt.Type)
	assert.Equal(t, uint64(1), evt.Seq)
	assert.NotEmpty(t, evt.BidID)
	snap, ok := env.seq.State().Get("A1")
	require.True(t, ok)
	assert.Equal(t, "1050", snap.CurrentPrice.String())
	assert.Equal(t, "7", snap.LeadingBidderID)

	evt, err = env.seq.SubmitBid(ctx, bid("A1", "9", "1040"))
	require.NoError(t, err)
	assert.Equal(t, ledger.EventTypeBidRejected, evt.Type)
	assert.Equal(t, ledger.ReasonPriceTooLow, evt.ReasonCode)
	assert.Equal(t, uint64(2), evt.Seq)
	assert.Empty(t, evt.BidID)

	_, err = env.seq.PauseAuction(ctx, "A1")
	require.NoError(t, err)
	evt, err = env.seq.SubmitBid(ctx, bid("A1", "7", "2000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonAuctionNotActive, evt.ReasonCode)
	assert.Equal(t, uint64(3), evt.Seq)

	snap, _ = env.seq.State().Get("A1")
	assert.Equal(t, "1050", snap.CurrentPrice.String())
	assert.Equal(t, state.StatusPaused, snap.Status)
	assert.Equal(t, uint64(3), snap.LastSeq)
	assert.Len(t, env.publisher.Events(), 3)

	checkpoint, err := env.db.GetAuction("A1", nil)
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, uint64(3), checkpoint.LastSeq)
	assert.Equal(t, "paused", checkpoint.Status)

	history, err := env.seq.StatusHistory("A1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "active", history[1].FromStatus)
	assert.Equal(t, "paused", history[1].ToStatus)
	assert.Equal(t, uint64(2), history[1].AtSeq)
}

func TestDecisionReasons(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()
	_, err := env.seq.CreateAuction(ctx, sequencer.AuctionSpec{
		ID:            "A1",
		SellerID:      "seller",
		StartingPrice: decimal.RequireFromString("100"),
		MinIncrement:  decimal.RequireFromString("5"),
	})
	require.NoError(t, err)

	evt, err := env.seq.SubmitBid(ctx, bid("A1", "u1", "200"))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonAuctionNotActive, evt.ReasonCode)

	_, err = env.seq.OpenAuction(ctx, "A1")
	require.NoError(t, err)
	testDefs := []struct {
		bidder string
		amount string
		reason ledger.ReasonCode
	}{
		{"seller", "500", ledger.ReasonSellerCannotBid},
		{"u1", "100", ledger.ReasonPriceTooLow},
		{"u1", "104.99", ledger.ReasonIncrementTooSmall},
		{"u1", "105", ledger.ReasonNone},
		{"u2", "109", ledger.ReasonIncrementTooSmall},
		{"u2", "110.5", ledger.ReasonNone},
	}
	for i, testDef := range testDefs {
		evt, err := env.seq.SubmitBid(ctx, bid("A1", testDef.bidder, testDef.amount))
		require.NoError(t, err)
		assert.Equal(t, testDef.reason, evt.ReasonCode, "bid %d", i)
		assert.Equal(t, uint64(i+2), evt.Seq)
	}
	snap, _ := env.seq.State().Get("A1")
	assert.Equal(t, "110.5", snap.CurrentPrice.String())
	assert.Equal(t, "u2", snap.LeadingBidderID)
	assert.Equal(t, uint64(2), snap.BidCount)
}

func TestRequestsThatConsumeNoSeq(t *testing.T) {
	env := newTestEnv(t, "", func(cfg *sequencer.Config) {
		cfg.BidRateLimit = 0.001
		cfg.BidRateBurst = 2
	})
	ctx := context.Background()
	env.createActive(t, "A1", "100")

	_, err := env.seq.SubmitBid(ctx, bid("A1", "", "110"))
	require.ErrorIs(t, err, sequencer.ErrValidation)
	_, err = env.seq.SubmitBid(ctx, bid("A1", "u1", "-5"))
	var valErr sequencer.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "bid_amount", valErr.Field)
	_, err = env.seq.SubmitBid(ctx, bid("A1", "u1", "110.123456789"))
	require.ErrorIs(t, err, sequencer.ErrValidation)
	_, err = env.seq.SubmitBid(ctx, bid("missing", "u1", "110"))
	require.ErrorIs(t, err, sequencer.ErrAuctionNotFound)

	for range 2 {
		_, err = env.seq.SubmitBid(ctx, bid("A1", "u1", "1"))
		require.NoError(t, err)
	}
	_, err = env.seq.SubmitBid(ctx, bid("A1", "u1", "1"))
	require.ErrorIs(t, err, sequencer.ErrRateLimited)
	// Other bidders are unaffected
	evt, err := env.seq.SubmitBid(ctx, bid("A1", "u2", "120"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), evt.Seq)
}

func TestConcurrentBidsAreGapless(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()
	env.createActive(t, "A1", "100")
	env.createActive(t, "A2", "100")

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	maxAccepted := map[string]decimal.Decimal{}
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				auctionID := "A1"
				if i%2 == 1 {
					auctionID = "A2"
				}
				amount := decimal.NewFromInt(int64(101 + w*perWorker + i))
				evt, err := env.seq.SubmitBid(ctx, sequencer.BidRequest{
					AuctionID: auctionID,
					BidderID:  "u",
					Amount:    amount,
				})
				if err != nil {
					t.Errorf("unexpected error: %s", err)
					return
				}
				if evt.Accepted() {
					mu.Lock()
					if cur, ok := maxAccepted[auctionID]; !ok || amount.GreaterThan(cur) {
						maxAccepted[auctionID] = amount
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	for _, auctionID := range []string{"A1", "A2"} {
		events, err := env.ledger.ReadRange(ctx, auctionID, 0, 0)
		require.NoError(t, err)
		require.NotEmpty(t, events)
		var lastAccepted decimal.Decimal
		for i, evt := range events {
			require.Equal(t, uint64(i+1), evt.Seq)
			if evt.Accepted() {
				require.True(t, evt.Amount.GreaterThan(lastAccepted))
				lastAccepted = evt.Amount
			}
		}
		snap, _ := env.seq.State().Get(auctionID)
		assert.Equal(t, uint64(len(events)), snap.LastSeq)
		assert.True(t, snap.CurrentPrice.Equal(maxAccepted[auctionID]))
		assert.True(t, snap.CurrentPrice.Equal(lastAccepted))
	}
	assert.Len(t, env.publisher.Events(), workers*perWorker)
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()
	_, err := env.seq.CreateAuction(ctx, sequencer.AuctionSpec{
		ID:            "A1",
		StartingPrice: decimal.RequireFromString("10"),
	})
	require.NoError(t, err)
	_, err = env.seq.CreateAuction(ctx, sequencer.AuctionSpec{ID: "A1"})
	require.ErrorIs(t, err, sequencer.ErrAuctionExists)

	_, err = env.seq.ResumeAuction(ctx, "A1")
	require.ErrorIs(t, err, sequencer.ErrInvalidTransition)
	_, err = env.seq.PauseAuction(ctx, "A1")
	require.ErrorIs(t, err, sequencer.ErrInvalidTransition)

	snap, err := env.seq.OpenAuction(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusActive, snap.Status)
	assert.Equal(t, "USD", snap.Currency)
	require.NotNil(t, snap.OpenedAt)

	_, err = env.seq.PauseAuction(ctx, "A1")
	require.NoError(t, err)
	_, err = env.seq.OpenAuction(ctx, "A1")
	require.ErrorIs(t, err, sequencer.ErrInvalidTransition)
	_, err = env.seq.ResumeAuction(ctx, "A1")
	require.NoError(t, err)

	snap, err = env.seq.CloseAuction(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusEnded, snap.Status)
	require.NotNil(t, snap.ClosedAt)
	_, err = env.seq.ResumeAuction(ctx, "A1")
	require.ErrorIs(t, err, sequencer.ErrInvalidTransition)

	evt, err := env.seq.SubmitBid(ctx, bid("A1", "u1", "50"))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonAuctionNotActive, evt.ReasonCode)

	_, err = env.seq.CloseAuction(ctx, "missing")
	require.ErrorIs(t, err, sequencer.ErrAuctionNotFound)
	env.publisher.mu.Lock()
	assert.Len(t, env.publisher.statuses, 4)
	env.publisher.mu.Unlock()
}

func TestBidAfterEndTimeClosesAuction(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	env := newTestEnv(t, "", func(cfg *sequencer.Config) {
		cfg.NowFunc = func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			return now
		}
	})
	ctx := context.Background()
	endsAt := now.Add(time.Hour)
	_, err := env.seq.CreateAuction(ctx, sequencer.AuctionSpec{
		ID:            "A1",
		StartingPrice: decimal.RequireFromString("10"),
		EndsAt:        &endsAt,
	})
	require.NoError(t, err)
	_, err = env.seq.OpenAuction(ctx, "A1")
	require.NoError(t, err)
	evt, err := env.seq.SubmitBid(ctx, bid("A1", "u1", "20"))
	require.NoError(t, err)
	assert.True(t, evt.Accepted())

	clockMu.Lock()
	now = now.Add(2 * time.Hour)
	clockMu.Unlock()
	evt, err = env.seq.SubmitBid(ctx, bid("A1", "u2", "30"))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonAuctionNotActive, evt.ReasonCode)
	assert.Equal(t, uint64(2), evt.Seq)
	snap, _ := env.seq.State().Get("A1")
	assert.Equal(t, state.StatusEnded, snap.Status)
	assert.Equal(t, "20", snap.CurrentPrice.String())
}

func TestScheduledCloseTimer(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()
	endsAt := time.Now().UTC().Add(100 * time.Millisecond)
	_, err := env.seq.CreateAuction(ctx, sequencer.AuctionSpec{
		ID:            "A1",
		StartingPrice: decimal.RequireFromString("10"),
		EndsAt:        &endsAt,
	})
	require.NoError(t, err)
	_, err = env.seq.OpenAuction(ctx, "A1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, _ := env.seq.State().Get("A1")
		return snap.Status == state.StatusEnded
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLoadRecoversState(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()
	env := newTestEnv(t, dataDir, nil)
	env.createActive(t, "A1", "100")
	for _, amount := range []string{"110", "105", "130"} {
		_, err := env.seq.SubmitBid(ctx, bid("A1", "u1", amount))
		require.NoError(t, err)
	}
	before, _ := env.seq.State().Get("A1")
	env.seq.Stop()
	require.NoError(t, env.db.Close())

	env2 := newTestEnv(t, dataDir, nil)
	require.NoError(t, env2.seq.Load(ctx, false))
	after, ok := env2.seq.State().Get("A1")
	require.True(t, ok)
	assert.Equal(t, before.LastSeq, after.LastSeq)
	assert.Equal(t, before.LastHash, after.LastHash)
	assert.True(t, before.CurrentPrice.Equal(after.CurrentPrice))
	assert.Equal(t, state.StatusActive, after.Status)

	evt, err := env2.seq.SubmitBid(ctx, bid("A1", "u2", "140"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), evt.Seq)
	assert.Equal(t, before.LastHash, evt.HashPrev)
}

func TestLoadFoldsLedgerBeyondCheckpoint(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()
	env.createActive(t, "A1", "100")
	_, err := env.seq.SubmitBid(ctx, bid("A1", "u1", "110"))
	require.NoError(t, err)

	// Write a ledger record without its index row or checkpoint, as left
	// behind by a crash between the blob and metadata commits
	var orphan ledger.Event
	txn := env.db.BlobTransaction(true)
	err = txn.Do(func(txn *database.Txn) error {
		var err error
		orphan, err = env.ledger.Append(txn, ledger.Event{
			AuctionID: "A1",
			Type:      ledger.EventTypeBidAccepted,
			BidID:     "b-orphan",
			BidderID:  "u2",
			Amount:    decimal.RequireFromString("150"),
		})
		return err
	})
	require.NoError(t, err)

	require.NoError(t, env.seq.Reconcile(ctx, "A1"))
	snap, _ := env.seq.State().Get("A1")
	assert.Equal(t, uint64(2), snap.LastSeq)
	assert.Equal(t, "150", snap.CurrentPrice.String())
	assert.Equal(t, orphan.HashCurr, snap.LastHash)

	indexed, err := env.db.GetBidEventByBidId("b-orphan", nil)
	require.NoError(t, err)
	require.NotNil(t, indexed)
	checkpoint, err := env.db.GetAuction("A1", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), checkpoint.LastSeq)

	events := env.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[1].Seq)

	evt, err := env.seq.SubmitBid(ctx, bid("A1", "u3", "160"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), evt.Seq)
}

func TestLedgerWriteErrorLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()
	env.createActive(t, "A1", "100")
	_, err := env.seq.SubmitBid(ctx, bid("A1", "u1", "110"))
	require.NoError(t, err)
	before, _ := env.seq.State().Get("A1")

	require.NoError(t, env.db.Close())
	_, err = env.seq.SubmitBid(ctx, bid("A1", "u2", "120"))
	require.ErrorIs(t, err, sequencer.ErrLedgerWrite)
	var lwErr sequencer.LedgerWriteError
	require.True(t, errors.As(err, &lwErr))
	assert.True(t, lwErr.Temporary())

	after, _ := env.seq.State().Get("A1")
	assert.Equal(t, before, after)
	assert.Len(t, env.publisher.Events(), 1)
}

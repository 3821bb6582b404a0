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

package fanout_test

import (
	"context"
	"testing"
	"time"

	"github.com/blinklabs-io/auctioneer/database"
	"github.com/blinklabs-io/auctioneer/event"
	"github.com/blinklabs-io/auctioneer/fanout"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/sequencer"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type testEnv struct {
	bus    *event.EventBus
	fanout *fanout.Service
	seq    *sequencer.Sequencer
}

func newTestEnv(t *testing.T, modify func(*fanout.Config)) *testEnv {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	l, err := ledger.New(db, nil)
	require.NoError(t, err)
	store := state.NewStore()
	bus := event.NewEventBus(nil, nil)
	cfg := fanout.Config{
		EventBus: bus,
		Ledger:   l,
		State:    store,
	}
	if modify != nil {
		modify(&cfg)
	}
	svc, err := fanout.New(cfg)
	require.NoError(t, err)
	seq, err := sequencer.New(sequencer.Config{
		Ledger:    l,
		State:     store,
		Publisher: svc,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		seq.Stop()
		bus.Stop()
		_ = db.Close()
	})
	return &testEnv{bus: bus, fanout: svc, seq: seq}
}

func (e *testEnv) bid(t *testing.T, bidder string, amount string) *ledger.Event {
	t.Helper()
	evt, err := e.seq.SubmitBid(context.Background(), sequencer.BidRequest{
		AuctionID: "A1",
		BidderID:  bidder,
		Amount:    decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return evt
}

// setupScenario leaves A1 paused at price 1050 after three events
func (e *testEnv) setupScenario(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := e.seq.CreateAuction(ctx, sequencer.AuctionSpec{
		ID:            "A1",
		StartingPrice: decimal.RequireFromString("1000"),
	})
	require.NoError(t, err)
	_, err = e.seq.OpenAuction(ctx, "A1")
	require.NoError(t, err)
	e.bid(t, "7", "1050")
	e.bid(t, "9", "1040")
	_, err = e.seq.PauseAuction(ctx, "A1")
	require.NoError(t, err)
	e.bid(t, "7", "2000")
}

func nextMessage(t *testing.T, sub *fanout.Subscription) fanout.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	return msg
}

func TestFreshSubscriberGetsSnapshotOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setupScenario(t)
	sub, err := env.fanout.Subscribe(context.Background(), "A1", nil)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, "1050", sub.Snapshot.CurrentPrice.String())
	assert.Equal(t, state.StatusPaused, sub.Snapshot.Status)
	assert.Empty(t, sub.Replay)
	assert.Equal(t, uint64(3), sub.LastDeliveredSeq())
}

func TestReconnectReplaysMissedEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setupScenario(t)
	ctx := context.Background()

	// A subscriber that stays connected throughout
	steady, err := env.fanout.Subscribe(ctx, "A1", nil)
	require.NoError(t, err)
	defer steady.Close()

	_, err = env.seq.ResumeAuction(ctx, "A1")
	require.NoError(t, err)
	evt := env.bid(t, "9", "1200")
	require.Equal(t, uint64(4), evt.Seq)

	since := uint64(2)
	sub, err := env.fanout.Subscribe(ctx, "A1", &since)
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, sub.Replay, 2)
	assert.Equal(t, uint64(3), sub.Replay[0].ServerSeq)
	assert.Equal(t, fanout.MessageNewBid, sub.Replay[0].Type)
	assert.Equal(t, uint64(4), sub.Replay[1].ServerSeq)
	assert.Equal(t, fanout.MessagePriceUpdated, sub.Replay[1].Type)
	assert.Equal(t, "1200", sub.Snapshot.CurrentPrice.String())
	assert.Equal(t, uint64(4), sub.LastDeliveredSeq())

	msg := nextMessage(t, steady)
	assert.Equal(t, fanout.MessageStatusChanged, msg.Type)
	assert.Equal(t, state.StatusActive, msg.Status)
	assert.Equal(t, uint64(3), msg.ServerSeq)
	msg = nextMessage(t, steady)
	assert.Equal(t, uint64(4), msg.ServerSeq)
	require.NotNil(t, msg.CurrentPrice)
	assert.Equal(t, "1200", msg.CurrentPrice.String())
	assert.Equal(t, steady.LastDeliveredSeq(), sub.LastDeliveredSeq())

	// Both see the next live event exactly once
	env.bid(t, "7", "1300")
	assert.Equal(t, uint64(5), nextMessage(t, steady).ServerSeq)
	assert.Equal(t, uint64(5), nextMessage(t, sub).ServerSeq)
}

func TestQueuedStatusOlderThanSnapshotIsSkipped(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setupScenario(t)
	ctx := context.Background()
	_, err := env.seq.ResumeAuction(ctx, "A1")
	require.NoError(t, err)

	// The pause and resume broadcasts may still be queued on the bus
	sub, err := env.fanout.Subscribe(ctx, "A1", nil)
	require.NoError(t, err)
	defer sub.Close()
	require.Equal(t, state.StatusActive, sub.Snapshot.Status)

	env.bid(t, "9", "1200")
	msg := nextMessage(t, sub)
	assert.Equal(t, fanout.MessagePriceUpdated, msg.Type)
	assert.Equal(t, uint64(4), msg.ServerSeq)

	_, err = env.seq.PauseAuction(ctx, "A1")
	require.NoError(t, err)
	msg = nextMessage(t, sub)
	assert.Equal(t, fanout.MessageStatusChanged, msg.Type)
	assert.Equal(t, state.StatusPaused, msg.Status)
	assert.Equal(t, sub.Snapshot.StatusVersion+1, msg.StatusVersion)
}

func TestReplayFallsBackToLedger(t *testing.T) {
	env := newTestEnv(t, func(cfg *fanout.Config) {
		cfg.ReplayCacheSize = 2
	})
	env.setupScenario(t)
	ctx := context.Background()
	_, err := env.seq.ResumeAuction(ctx, "A1")
	require.NoError(t, err)
	env.bid(t, "9", "1200")
	env.bid(t, "7", "1300")

	since := uint64(1)
	sub, err := env.fanout.Subscribe(ctx, "A1", &since)
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, sub.Replay, 4)
	for i, msg := range sub.Replay {
		assert.Equal(t, uint64(i+2), msg.ServerSeq)
	}

	zero := uint64(0)
	sub2, err := env.fanout.Subscribe(ctx, "A1", &zero)
	require.NoError(t, err)
	defer sub2.Close()
	assert.Len(t, sub2.Replay, 5)
}

func TestSubscribeUnknownAuction(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.fanout.Subscribe(context.Background(), "nope", nil)
	require.ErrorIs(t, err, fanout.ErrAuctionNotFound)
}

func TestSubscriberLimitPerIP(t *testing.T) {
	env := newTestEnv(t, func(cfg *fanout.Config) {
		cfg.MaxSubscribersPerIP = 1
	})
	env.setupScenario(t)
	ctx := context.Background()
	sub, err := env.fanout.Subscribe(ctx, "A1", nil, fanout.WithRemoteAddr("2001:db8::1"))
	require.NoError(t, err)
	_, err = env.fanout.Subscribe(ctx, "A1", nil, fanout.WithRemoteAddr("[2001:db8::2]:443"))
	require.ErrorIs(t, err, fanout.ErrTooManySubscribers)
	other, err := env.fanout.Subscribe(ctx, "A1", nil, fanout.WithRemoteAddr("192.0.2.1:80"))
	require.NoError(t, err)
	other.Close()
	sub.Close()
	sub.Close()
	again, err := env.fanout.Subscribe(ctx, "A1", nil, fanout.WithRemoteAddr("2001:db8::3"))
	require.NoError(t, err)
	again.Close()
	assert.Equal(t, 0, env.fanout.SubscriberCount("A1"))
}

func TestNextAfterClose(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setupScenario(t)
	sub, err := env.fanout.Subscribe(context.Background(), "A1", nil)
	require.NoError(t, err)
	sub.Close()
	_, err = sub.Next(context.Background())
	require.ErrorIs(t, err, fanout.ErrSubscriptionClosed)
}

func TestSlowSubscriberMustResubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	store := state.NewStore()
	store.Put(state.Snapshot{AuctionID: "A1", Status: state.StatusActive})
	svc, err := fanout.New(fanout.Config{
		EventBus:            bus,
		State:               store,
		SubscriberQueueSize: 2,
	})
	require.NoError(t, err)
	sub, err := svc.Subscribe(context.Background(), "A1", nil)
	require.NoError(t, err)
	defer sub.Close()
	for seq := uint64(1); seq <= 5; seq++ {
		evt := ledger.Event{
			AuctionID: "A1",
			Seq:       seq,
			Type:      ledger.EventTypeBidAccepted,
			Amount:    decimal.NewFromInt(int64(seq)),
		}
		store.Apply(evt)
		svc.PublishEvent(evt, state.Snapshot{})
	}
	// The bus drops the subscriber once its queue overflows
	require.Eventually(t, func() bool {
		return svc.SubscriberCount("A1") == 0
	}, 5*time.Second, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var gotErr error
	for range 5 {
		if _, err := sub.Next(ctx); err != nil {
			gotErr = err
			break
		}
	}
	require.ErrorIs(t, gotErr, fanout.ErrResubscribe)

	// Resubscribing from the last delivered seq catches up from the cache
	since := sub.LastDeliveredSeq()
	sub2, err := svc.Subscribe(context.Background(), "A1", &since)
	require.NoError(t, err)
	defer sub2.Close()
	assert.Equal(t, uint64(5), sub2.Snapshot.LastSeq)
	assert.Len(t, sub2.Replay, int(5-since))
}

func TestIPKey(t *testing.T) {
	assert.Equal(t, "192.0.2.1", fanout.IPKey("192.0.2.1:1234"))
	assert.Equal(t, "192.0.2.1", fanout.IPKey("192.0.2.1"))
	assert.Equal(t, "2001:db8::/64", fanout.IPKey("[2001:db8::abcd]:1"))
	assert.Empty(t, fanout.IPKey("not-an-ip"))
}

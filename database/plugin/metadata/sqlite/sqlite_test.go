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

package sqlite_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/blinklabs-io/auctioneer/database/models"
	"github.com/blinklabs-io/auctioneer/database/plugin/metadata/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.MetadataStoreSqlite {
	t.Helper()
	store, err := sqlite.New("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEvent(auctionId string, seq uint64, bidder string, amount int64, accepted bool) *models.BidEvent {
	evt := &models.BidEvent{
		EventID:    fmt.Sprintf("evt-%s-%d", auctionId, seq),
		AuctionID:  auctionId,
		Seq:        seq,
		BidderID:   bidder,
		Amount:     decimal.NewFromInt(amount),
		Currency:   "USD",
		EventType:  "bid_rejected",
		ReasonCode: "PRICE_TOO_LOW",
		ServerTime: time.Unix(int64(seq), 0).UTC(),
	}
	if accepted {
		evt.EventType = "bid_accepted"
		evt.ReasonCode = ""
		evt.BidID = fmt.Sprintf("bid-%s-%d", auctionId, seq)
	}
	return evt
}

func TestInMemoryStoresAreIsolated(t *testing.T) {
	s1 := newTestStore(t)
	s2 := newTestStore(t)
	require.NoError(t, s1.SetAuction(&models.Auction{ID: "A1", Status: "active", Currency: "USD"}, nil))
	a, err := s2.GetAuction("A1", nil)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAuctionCheckpoint(t *testing.T) {
	store := newTestStore(t)
	auction := &models.Auction{
		ID:            "A1",
		Status:        "active",
		Currency:      "USD",
		StartingPrice: decimal.NewFromInt(1000),
		CurrentPrice:  decimal.NewFromInt(1000),
	}
	require.NoError(t, store.SetAuction(auction, nil))
	auction.CurrentPrice = decimal.RequireFromString("1050.25")
	auction.LastSeq = 1
	auction.LeadingBidderID = "7"
	require.NoError(t, store.SetAuction(auction, nil))

	got, err := store.GetAuction("A1", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CurrentPrice.Equal(decimal.RequireFromString("1050.25")))
	assert.Equal(t, uint64(1), got.LastSeq)
	assert.Equal(t, "7", got.LeadingBidderID)

	all, err := store.GetAuctions(nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.AddAuctionStatusChange(&models.AuctionStatusChange{
		AuctionID:  "A1",
		FromStatus: "active",
		ToStatus:   "paused",
		AtSeq:      1,
		ChangedAt:  time.Now().UTC(),
	}, nil))
	changes, err := store.GetAuctionStatusChanges("A1", nil)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "paused", changes[0].ToStatus)
}

func TestTransactionRollback(t *testing.T) {
	store := newTestStore(t)
	txn := store.Transaction()
	require.NoError(t, store.AddBidEvent(testEvent("A1", 1, "7", 1050, true), txn))
	require.NoError(t, store.SetCommitTimestamp(99, txn))
	require.NoError(t, txn.Rollback())
	events, err := store.GetBidEvents("A1", 1, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, events)
	ts, err := store.GetCommitTimestamp()
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	txn = store.Transaction()
	require.NoError(t, store.AddBidEvent(testEvent("A1", 1, "7", 1050, true), txn))
	require.NoError(t, store.SetCommitTimestamp(100, txn))
	require.NoError(t, txn.Commit())
	// A finished transaction cannot be reused
	require.Error(t, store.AddBidEvent(testEvent("A1", 2, "7", 1060, true), txn))
	ts, err = store.GetCommitTimestamp()
	require.NoError(t, err)
	assert.Equal(t, int64(100), ts)
}

func TestBidEventQueries(t *testing.T) {
	store := newTestStore(t)
	// 1: bidder 7 accepted 1050, 2: bidder 9 rejected, 3: bidder 9 accepted 1100,
	// 4: bidder 7 accepted 1200, 5: bidder 9 rejected
	require.NoError(t, store.AddBidEvent(testEvent("A1", 1, "7", 1050, true), nil))
	require.NoError(t, store.AddBidEvent(testEvent("A1", 2, "9", 1040, false), nil))
	require.NoError(t, store.AddBidEvent(testEvent("A1", 3, "9", 1100, true), nil))
	require.NoError(t, store.AddBidEvent(testEvent("A1", 4, "7", 1200, true), nil))
	require.NoError(t, store.AddBidEvent(testEvent("A1", 5, "9", 1150, false), nil))
	require.NoError(t, store.AddBidEvent(testEvent("A2", 1, "9", 10, true), nil))
	// Indexing the same seq again is a no-op
	require.NoError(t, store.AddBidEvent(testEvent("A1", 1, "7", 1050, true), nil))

	events, err := store.GetBidEvents("A1", 2, 4, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(2), events[0].Seq)
	assert.Equal(t, uint64(4), events[2].Seq)

	latest, err := store.GetLatestAcceptedBids("A1", 2, nil)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, uint64(4), latest[0].Seq)
	assert.Equal(t, uint64(3), latest[1].Seq)

	bid, err := store.GetBidEventByBidId("bid-A1-3", nil)
	require.NoError(t, err)
	require.NotNil(t, bid)
	assert.Equal(t, "9", bid.BidderID)
	missing, err := store.GetBidEventByBidId("nope", nil)
	require.NoError(t, err)
	assert.Nil(t, missing)

	history, err := store.GetBidderEvents("9", 10, 0, nil)
	require.NoError(t, err)
	assert.Len(t, history, 4)
	page, err := store.GetBidderEvents("9", 2, 2, nil)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	board, err := store.GetLeaderboard("A1", 10, nil)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "7", board[0].BidderID)
	assert.True(t, board[0].MaxAmount.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, int64(2), board[0].BidCount)
	assert.Equal(t, "9", board[1].BidderID)
	assert.True(t, board[1].MaxAmount.Equal(decimal.NewFromInt(1100)))
	assert.Equal(t, int64(1), board[1].BidCount)

	require.NoError(t, store.DeleteBidEvents("A1", 4, nil))
	events, err = store.GetBidEvents("A1", 1, 0, nil)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestAutoBidRows(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetAutoBid(&models.AutoBid{
		AuctionID: "A1",
		BidderID:  "u1",
		Increment: decimal.NewFromInt(10),
		Maximum:   decimal.NewFromInt(300),
	}, nil))
	require.NoError(t, store.SetAutoBid(&models.AutoBid{
		AuctionID: "A1",
		BidderID:  "u2",
		Increment: decimal.NewFromInt(5),
		Maximum:   decimal.NewFromInt(200),
	}, nil))
	// A new configuration for the same bidder replaces the old one
	require.NoError(t, store.SetAutoBid(&models.AutoBid{
		AuctionID: "A1",
		BidderID:  "u1",
		Increment: decimal.NewFromInt(20),
		Maximum:   decimal.NewFromInt(400),
	}, nil))

	rows, err := store.GetAutoBids("A1", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "u1", rows[0].BidderID)
	assert.True(t, rows[0].Maximum.Equal(decimal.NewFromInt(400)))

	rows[0].BidCount = 3
	require.NoError(t, store.SetAutoBid(&rows[0], nil))
	got, err := store.GetAutoBid("A1", "u1", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(3), got.BidCount)
	assert.True(t, got.Increment.Equal(decimal.NewFromInt(20)))

	deleted, err := store.DeleteAutoBid("A1", "u1", nil)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.DeleteAutoBid("A1", "u1", nil)
	require.NoError(t, err)
	assert.False(t, deleted)
	got, err = store.GetAutoBid("A1", "u1", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

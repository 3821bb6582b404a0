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

package database_test

import (
	"errors"
	"testing"
	"time"

	"github.com/blinklabs-io/auctioneer/database"
	"github.com/blinklabs-io/auctioneer/database/models"
	"github.com/blinklabs-io/auctioneer/database/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T, dataDir string) *database.Database {
	t.Helper()
	db, err := database.New(&database.Config{DataDir: dataDir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testAuction(id string) *models.Auction {
	return &models.Auction{
		ID:            id,
		Status:        "draft",
		Currency:      "USD",
		SellerID:      "seller-1",
		StartingPrice: decimal.RequireFromString("100"),
		CurrentPrice:  decimal.RequireFromString("100"),
		MinIncrement:  decimal.RequireFromString("1"),
		CreatedAt:     time.Now().UTC(),
	}
}

func TestTransactionCommitUpdatesBothStores(t *testing.T) {
	db := newTestDatabase(t, "")
	txn := db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		if err := db.Blob().Set(txn.Blob(), []byte("k1"), []byte("v1")); err != nil {
			return err
		}
		return db.SetAuction(testAuction("A1"), txn)
	})
	require.NoError(t, err)

	blobTs, err := db.Blob().GetCommitTimestamp()
	require.NoError(t, err)
	metaTs, err := db.Metadata().GetCommitTimestamp()
	require.NoError(t, err)
	assert.NotZero(t, blobTs)
	assert.Equal(t, blobTs, metaTs)

	auction, err := db.GetAuction("A1", nil)
	require.NoError(t, err)
	require.NotNil(t, auction)
	assert.Equal(t, "seller-1", auction.SellerID)

	rtxn := db.BlobTransaction(false)
	defer rtxn.Release()
	val, err := db.Blob().Get(rtxn.Blob(), []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)
}

func TestTransactionDoRollsBackOnError(t *testing.T) {
	db := newTestDatabase(t, "")
	errTest := errors.New("test error")
	txn := db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		if err := db.Blob().Set(txn.Blob(), []byte("k1"), []byte("v1")); err != nil {
			return err
		}
		if err := db.SetAuction(testAuction("A1"), txn); err != nil {
			return err
		}
		return errTest
	})
	require.ErrorIs(t, err, errTest)

	auction, err := db.GetAuction("A1", nil)
	require.NoError(t, err)
	assert.Nil(t, auction)

	rtxn := db.BlobTransaction(false)
	defer rtxn.Release()
	_, err = db.Blob().Get(rtxn.Blob(), []byte("k1"))
	require.ErrorIs(t, err, types.ErrBlobKeyNotFound)
}

func TestTransactionFinishedIsNoop(t *testing.T) {
	db := newTestDatabase(t, "")
	txn := db.Transaction(true)
	require.NoError(t, txn.Commit())
	require.NoError(t, txn.Commit())
	require.NoError(t, txn.Rollback())
	txn.Release()
}

func TestCommitTimestampMismatch(t *testing.T) {
	dataDir := t.TempDir()
	db, err := database.New(&database.Config{DataDir: dataDir})
	require.NoError(t, err)
	// Stamp only the blob store to simulate a crash between the two commits
	txn := db.BlobTransaction(true)
	require.NoError(t, db.Blob().SetCommitTimestamp(12345, txn.Blob()))
	require.NoError(t, txn.Commit())
	require.NoError(t, db.Close())

	db, err = database.New(&database.Config{DataDir: dataDir})
	require.NotNil(t, db)
	defer db.Close()
	var tsErr database.CommitTimestampError
	require.ErrorAs(t, err, &tsErr)
	assert.Equal(t, int64(12345), tsErr.BlobTimestamp)
	assert.Equal(t, int64(0), tsErr.MetadataTimestamp)

	require.NoError(t, db.ResetCommitTimestamp())
}

func TestBidEventQueries(t *testing.T) {
	db := newTestDatabase(t, "")
	now := time.Now().UTC()
	events := []models.BidEvent{
		{EventID: "e1", AuctionID: "A1", Seq: 1, BidID: "b1", BidderID: "u1", Amount: decimal.RequireFromString("110"), EventType: "bid_accepted", ServerTime: now},
		{EventID: "e2", AuctionID: "A1", Seq: 2, BidderID: "u2", Amount: decimal.RequireFromString("105"), EventType: "bid_rejected", ReasonCode: "PRICE_TOO_LOW", ServerTime: now},
		{EventID: "e3", AuctionID: "A1", Seq: 3, BidID: "b3", BidderID: "u2", Amount: decimal.RequireFromString("120"), EventType: "bid_accepted", ServerTime: now},
	}
	for i := range events {
		require.NoError(t, db.AddBidEvent(&events[i], nil))
	}
	// Re-adding an indexed record is ignored
	dup := events[0]
	dup.ID = 0
	require.NoError(t, db.AddBidEvent(&dup, nil))

	got, err := db.GetBidEvents("A1", 2, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Seq)
	assert.Equal(t, uint64(3), got[1].Seq)

	latest, err := db.GetLatestAcceptedBids("A1", 10, nil)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "b3", latest[0].BidID)

	byBid, err := db.GetBidEventByBidId("b1", nil)
	require.NoError(t, err)
	require.NotNil(t, byBid)
	assert.Equal(t, uint64(1), byBid.Seq)

	require.NoError(t, db.DeleteBidEvents("A1", 3, nil))
	got, err = db.GetBidEvents("A1", 0, 0, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

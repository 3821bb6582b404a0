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

package verifier_test

import (
	"context"
	"testing"
	"time"

	"github.com/blinklabs-io/auctioneer/database"
	"github.com/blinklabs-io/auctioneer/database/types"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/verifier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l, err := ledger.New(db, nil)
	require.NoError(t, err)
	return l
}

func appendBids(t *testing.T, l *ledger.Ledger, auctionID string, amounts ...string) []ledger.Event {
	t.Helper()
	ret := make([]ledger.Event, 0, len(amounts))
	for _, amount := range amounts {
		var evt ledger.Event
		err := l.DB().Transaction(true).Do(func(txn *database.Txn) error {
			var err error
			evt, err = l.Append(txn, ledger.Event{
				AuctionID: auctionID,
				Type:      ledger.EventTypeBidAccepted,
				BidderID:  "u1",
				Amount:    decimal.RequireFromString(amount),
				Currency:  "USD",
			})
			return err
		})
		require.NoError(t, err)
		l.Commit(evt)
		ret = append(ret, evt)
	}
	return ret
}

func writeRaw(t *testing.T, l *ledger.Ledger, key []byte, val []byte) {
	t.Helper()
	db := l.DB()
	err := db.BlobTransaction(true).Do(func(txn *database.Txn) error {
		if val == nil {
			return db.Blob().Delete(txn.Blob(), key)
		}
		return db.Blob().Set(txn.Blob(), key, val)
	})
	require.NoError(t, err)
}

func TestVerifyValidChain(t *testing.T) {
	l := newTestLedger(t)
	appendBids(t, l, "A1", "1050", "1100", "1200")
	res, err := verifier.Verify(context.Background(), l, "A1")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, uint64(3), res.Checked)
	assert.Equal(t, uint64(3), res.TipSeq)
	assert.NoError(t, res.Err)
}

func TestVerifyEmptyAuction(t *testing.T) {
	l := newTestLedger(t)
	res, err := verifier.Verify(context.Background(), l, "empty")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, uint64(0), res.Checked)
}

func TestVerifyDetectsTamperedAmount(t *testing.T) {
	l := newTestLedger(t)
	events := appendBids(t, l, "A1", "1050", "1100", "1200")
	tampered := events[1]
	tampered.Amount = decimal.RequireFromString("1000")
	data, err := tampered.MarshalRecord()
	require.NoError(t, err)
	writeRaw(t, l, types.BidEventBlobKey("A1", 2), data)

	res, err := verifier.Verify(context.Background(), l, "A1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, uint64(2), res.InvalidAtSeq)
	assert.Equal(t, uint64(1), res.Checked)
	require.ErrorIs(t, res.Err, ledger.ErrChainIntegrity)
	var integrityErr ledger.ChainIntegrityError
	require.ErrorAs(t, res.Err, &integrityErr)
	assert.Equal(t, uint64(2), integrityErr.Seq)

	// Verification is read-only
	again, err := verifier.Verify(context.Background(), l, "A1")
	require.NoError(t, err)
	assert.Equal(t, res.InvalidAtSeq, again.InvalidAtSeq)
}

func TestVerifyDetectsRelinkedRecord(t *testing.T) {
	l := newTestLedger(t)
	events := appendBids(t, l, "A1", "1050", "1100", "1200")
	// Recomputing the hash of a modified record still breaks the next link
	tampered := events[1]
	tampered.Amount = decimal.RequireFromString("1000")
	hash, err := tampered.ComputeHash()
	require.NoError(t, err)
	tampered.HashCurr = hash
	data, err := tampered.MarshalRecord()
	require.NoError(t, err)
	writeRaw(t, l, types.BidEventBlobKey("A1", 2), data)

	res, err := verifier.Verify(context.Background(), l, "A1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, uint64(3), res.InvalidAtSeq)
}

func TestVerifyDetectsMissingRecord(t *testing.T) {
	l := newTestLedger(t)
	appendBids(t, l, "A1", "1050", "1100", "1200")
	writeRaw(t, l, types.BidEventBlobKey("A1", 2), nil)
	res, err := verifier.Verify(context.Background(), l, "A1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, uint64(2), res.InvalidAtSeq)

	l2 := newTestLedger(t)
	appendBids(t, l2, "A1", "1050", "1100")
	writeRaw(t, l2, types.BidEventBlobKey("A1", 2), nil)
	res, err = verifier.Verify(context.Background(), l2, "A1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, uint64(2), res.InvalidAtSeq)
	assert.Equal(t, uint64(2), res.TipSeq)
}

func TestVerifyDetectsUndecodableRecord(t *testing.T) {
	l := newTestLedger(t)
	appendBids(t, l, "A1", "1050")
	writeRaw(t, l, types.BidEventBlobKey("A1", 1), []byte{0xff, 0x00})
	res, err := verifier.Verify(context.Background(), l, "A1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, uint64(1), res.InvalidAtSeq)
}

func TestVerifyDetectsUndecodableTip(t *testing.T) {
	l := newTestLedger(t)
	writeRaw(t, l, types.LedgerTipBlobKey("A1"), []byte{0x01})
	res, err := verifier.Verify(context.Background(), l, "A1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, uint64(0), res.Checked)
	assert.Equal(t, uint64(1), res.InvalidAtSeq)
	require.ErrorIs(t, res.Err, ledger.ErrChainIntegrity)

	l2 := newTestLedger(t)
	appendBids(t, l2, "A1", "1050", "1100")
	writeRaw(t, l2, types.LedgerTipBlobKey("A1"), []byte{0x01})
	res, err = verifier.Verify(context.Background(), l2, "A1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, uint64(2), res.Checked)
	assert.Equal(t, uint64(3), res.InvalidAtSeq)
}

func TestVerifyDuringConcurrentAppends(t *testing.T) {
	l := newTestLedger(t)
	appendBids(t, l, "A1", "1000")
	done := make(chan error, 1)
	go func() {
		for i := range 100 {
			var evt ledger.Event
			err := l.DB().Transaction(true).Do(func(txn *database.Txn) error {
				var err error
				evt, err = l.Append(txn, ledger.Event{
					AuctionID: "A1",
					Type:      ledger.EventTypeBidAccepted,
					BidderID:  "u2",
					Amount:    decimal.NewFromInt(int64(1001 + i)),
					Currency:  "USD",
				})
				return err
			})
			if err != nil {
				done <- err
				return
			}
			l.Commit(evt)
		}
		done <- nil
	}()
	runs := 0
	for {
		res, err := verifier.Verify(context.Background(), l, "A1")
		require.NoError(t, err)
		require.True(t, res.Valid, "verify run %d: %v", runs, res.Err)
		assert.Equal(t, res.TipSeq, res.Checked)
		runs++
		select {
		case appendErr := <-done:
			require.NoError(t, appendErr)
			res, err := verifier.Verify(context.Background(), l, "A1")
			require.NoError(t, err)
			assert.True(t, res.Valid)
			assert.Equal(t, uint64(101), res.Checked)
			return
		default:
		}
	}
}

func TestVerifyInvalidAuctionID(t *testing.T) {
	l := newTestLedger(t)
	_, err := verifier.Verify(context.Background(), l, "bad id")
	require.ErrorIs(t, err, ledger.ErrInvalidAuctionID)
}

func TestAuditorRunOnce(t *testing.T) {
	l := newTestLedger(t)
	appendBids(t, l, "A1", "1050", "1100")
	events := appendBids(t, l, "B2", "10", "20")
	tampered := events[0]
	tampered.BidderID = "mallory"
	data, err := tampered.MarshalRecord()
	require.NoError(t, err)
	writeRaw(t, l, types.BidEventBlobKey("B2", 1), data)

	reg := prometheus.NewRegistry()
	auditor, err := verifier.NewAuditor(verifier.AuditorConfig{
		Ledger:       l,
		PromRegistry: reg,
	})
	require.NoError(t, err)
	results, err := auditor.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "A1", results[0].AuctionID)
	assert.True(t, results[0].Valid)
	assert.Equal(t, "B2", results[1].AuctionID)
	assert.False(t, results[1].Valid)
	assert.Equal(t, uint64(1), results[1].InvalidAtSeq)
	families, err := reg.Gather()
	require.NoError(t, err)
	var failures float64
	for _, family := range families {
		if family.GetName() == "auctioneer_chain_integrity_failures_total" {
			failures = family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), failures)
}

func TestAuditorStartStop(t *testing.T) {
	l := newTestLedger(t)
	appendBids(t, l, "A1", "1050")
	auditor, err := verifier.NewAuditor(verifier.AuditorConfig{
		Ledger:   l,
		Interval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, auditor.Start(context.Background()))
	require.Error(t, auditor.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	auditor.Stop()
	auditor.Stop()
	require.NoError(t, auditor.Start(context.Background()))
	auditor.Stop()
}

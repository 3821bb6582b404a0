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

// Package verifier checks the hash chain of auction ledgers
package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/blinklabs-io/auctioneer/ledger"
)

var errInvalid = errors.New("invalid")

// Result is the outcome of verifying one auction ledger
type Result struct {
	AuctionID string
	Valid     bool
	// InvalidAtSeq is the first seq that failed verification
	InvalidAtSeq uint64
	// Checked is the number of records that verified
	Checked uint64
	TipSeq  uint64
	// Err is a ledger.ChainIntegrityError when the chain is invalid
	Err error
}

// Verify walks an auction ledger from genesis, recomputing every hash and
// checking seq continuity and hash_prev linkage. It never modifies the
// ledger. A non-nil error means the ledger could not be read at all; an
// integrity failure is reported through the Result
func Verify(
	ctx context.Context,
	l *ledger.Ledger,
	auctionID string,
) (Result, error) {
	if err := ledger.ValidateAuctionID(auctionID); err != nil {
		return Result{}, err
	}
	ret := Result{AuctionID: auctionID}
	invalid := func(seq uint64, reason string) error {
		ret.InvalidAtSeq = seq
		ret.Err = ledger.NewChainIntegrityError(auctionID, seq, reason)
		return errInvalid
	}
	prevHash := ledger.Genesis(auctionID)
	expectSeq := uint64(1)
	tip, err := l.WalkWithTip(ctx, auctionID, 1, func(rec ledger.RawRecord) error {
		if rec.KeySeq != expectSeq {
			return invalid(expectSeq, "record missing")
		}
		if rec.Err != nil {
			return invalid(rec.KeySeq, "record cannot be decoded")
		}
		evt := rec.Event
		if evt.Seq != rec.KeySeq {
			return invalid(
				rec.KeySeq,
				fmt.Sprintf("record claims seq %d", evt.Seq),
			)
		}
		if evt.AuctionID != auctionID {
			return invalid(rec.KeySeq, "record belongs to another auction")
		}
		if !bytes.Equal(evt.HashPrev, prevHash) {
			return invalid(rec.KeySeq, "hash_prev does not match previous hash")
		}
		computed, err := evt.ComputeHash()
		if err != nil {
			return invalid(rec.KeySeq, "record cannot be encoded")
		}
		if !bytes.Equal(computed, evt.HashCurr) {
			return invalid(rec.KeySeq, "hash_curr does not match contents")
		}
		prevHash = evt.HashCurr
		expectSeq++
		ret.Checked++
		return nil
	})
	switch {
	case errors.Is(err, errInvalid):
		return ret, nil
	case errors.Is(err, ledger.ErrInvalidTip):
		// Records that verified are still good; the ones the tip should
		// vouch for cannot be confirmed
		_ = invalid(ret.Checked+1, "tip record cannot be decoded")
		return ret, nil
	case err != nil:
		return Result{}, fmt.Errorf("walk ledger: %w", err)
	}
	ret.TipSeq = tip.Seq
	switch {
	case tip.Seq > ret.Checked:
		_ = invalid(ret.Checked+1, "record missing")
	case tip.Seq < ret.Checked:
		_ = invalid(tip.Seq+1, "record beyond tip")
	case !bytes.Equal(tip.Hash, prevHash):
		_ = invalid(tip.Seq, "tip hash does not match last record")
	default:
		ret.Valid = true
	}
	return ret, nil
}

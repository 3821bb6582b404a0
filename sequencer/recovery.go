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

package sequencer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/blinklabs-io/auctioneer/database"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
)

// genesisBase resets the ledger derived fields of a checkpoint
func genesisBase(checkpoint state.Snapshot) state.Snapshot {
	ret := checkpoint.Clone()
	ret.CurrentPrice = checkpoint.StartingPrice
	ret.LeadingBidderID = ""
	ret.LastSeq = 0
	ret.LastHash = ledger.Genesis(checkpoint.AuctionID)
	ret.BidCount = 0
	return ret
}

// Load rebuilds the state store from storage. Each auction starts from its
// checkpoint row and folds any newer ledger events on top. The ledger is
// authoritative: a checkpoint that is ahead of, or disagrees with, the
// ledger is discarded and the auction is refolded from genesis. With
// rebuildIndex set, the metadata index is also rewritten from the ledger
func (s *Sequencer) Load(ctx context.Context, rebuildIndex bool) error {
	auctions, err := s.db.GetAuctions(nil)
	if err != nil {
		return fmt.Errorf("load auctions: %w", err)
	}
	known := make(map[string]struct{}, len(auctions))
	for _, tmpAuction := range auctions {
		checkpoint, err := state.SnapshotFromModel(tmpAuction)
		if err != nil {
			return fmt.Errorf("load auction %s: %w", tmpAuction.ID, err)
		}
		known[checkpoint.AuctionID] = struct{}{}
		lock := s.lockFor(checkpoint.AuctionID)
		lock.Lock()
		next, _, err := s.syncAuction(ctx, checkpoint, rebuildIndex)
		lock.Unlock()
		if err != nil {
			return fmt.Errorf("recover auction %s: %w", checkpoint.AuctionID, err)
		}
		s.logger.Debug(
			"recovered auction",
			"auction_id", next.AuctionID,
			"status", next.Status,
			"checkpoint_seq", checkpoint.LastSeq,
			"ledger_seq", next.LastSeq,
		)
	}
	ledgerIDs, err := s.ledger.AuctionIDs(ctx)
	if err != nil {
		return fmt.Errorf("list ledger auctions: %w", err)
	}
	for _, id := range ledgerIDs {
		if _, ok := known[id]; !ok {
			s.logger.Warn(
				"ledger records found for auction without checkpoint",
				"auction_id", id,
			)
		}
	}
	for _, snap := range s.state.List() {
		s.armTimer(snap)
	}
	s.logger.Info("auction state loaded", "auctions", len(auctions))
	return nil
}

// Reconcile brings the in-memory state, checkpoint and index of an auction
// in line with its ledger and publishes any events that had not been
// applied yet
func (s *Sequencer) Reconcile(ctx context.Context, auctionID string) error {
	lock := s.lockFor(auctionID)
	lock.Lock()
	defer lock.Unlock()
	return s.reconcileLocked(ctx, auctionID)
}

func (s *Sequencer) reconcileLocked(
	ctx context.Context,
	auctionID string,
) error {
	s.ledger.Invalidate(auctionID)
	cur, ok := s.state.Get(auctionID)
	if !ok {
		return ErrAuctionNotFound
	}
	_, events, err := s.syncAuction(ctx, cur, false)
	if err != nil && events == nil {
		return err
	}
	// The state store holds the folded events even when the index write
	// failed, so subscribers hear about them either way
	for _, evt := range events {
		if evt.Seq <= cur.LastSeq {
			continue
		}
		cur = state.Fold(cur, evt)
		s.publisher.PublishEvent(evt, cur)
	}
	if err != nil {
		return err
	}
	s.logger.Info(
		"reconciled auction with ledger",
		"auction_id", auctionID,
		"seq", cur.LastSeq,
	)
	return nil
}

// syncAuction folds ledger events newer than checkpoint, rewrites the
// checkpoint and index rows as needed and stores the result in the state
// store. It returns the folded snapshot and the events read from the
// ledger. A failed index write still stores the folded snapshot and fences
// the auction until the index is repaired. The caller holds the auction
// lock
func (s *Sequencer) syncAuction(
	ctx context.Context,
	checkpoint state.Snapshot,
	rebuildIndex bool,
) (state.Snapshot, []ledger.Event, error) {
	auctionID := checkpoint.AuctionID
	tip, err := s.ledger.StoredTip(auctionID)
	if err != nil {
		return state.Snapshot{}, nil, err
	}
	base := checkpoint
	refold := false
	if tip.Seq < checkpoint.LastSeq ||
		(tip.Seq == checkpoint.LastSeq && checkpoint.LastSeq > 0 && !bytes.Equal(tip.Hash, checkpoint.LastHash)) {
		s.logger.Warn(
			"auction checkpoint does not match ledger, refolding from genesis",
			"auction_id", auctionID,
			"checkpoint_seq", checkpoint.LastSeq,
			"ledger_seq", tip.Seq,
		)
		base = genesisBase(checkpoint)
		refold = true
	}
	fromSeq := base.LastSeq + 1
	if rebuildIndex {
		fromSeq = 1
	}
	var events []ledger.Event
	if tip.Seq >= fromSeq {
		events, err = s.ledger.ReadRange(ctx, auctionID, fromSeq, tip.Seq)
		if err != nil {
			return state.Snapshot{}, nil, err
		}
	}
	next := state.Fold(base, events...)
	if len(events) > 0 || refold || rebuildIndex {
		txn := s.db.MetadataTransaction(true)
		err := txn.Do(func(txn *database.Txn) error {
			if refold || rebuildIndex {
				if err := s.db.DeleteBidEvents(auctionID, tip.Seq+1, txn); err != nil {
					return err
				}
			}
			for _, evt := range events {
				if err := s.db.AddBidEvent(evt.ToModel(), txn); err != nil {
					return err
				}
			}
			return s.db.SetAuction(next.ToModel(), txn)
		})
		if err != nil {
			s.state.Put(next)
			s.indexBehind.Store(auctionID, struct{}{})
			return next, events, fmt.Errorf("write index: %w", err)
		}
	}
	s.state.Put(next)
	s.indexBehind.Delete(auctionID)
	return next, events, nil
}

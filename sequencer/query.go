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
	"context"
	"errors"

	"github.com/blinklabs-io/auctioneer/database/models"
	"github.com/blinklabs-io/auctioneer/ledger"
)

const (
	DefaultLeaderboardLimit = 10
	DefaultQueryLimit       = 50
	MaxQueryLimit           = 500
)

var ErrBidNotFound = errors.New("bid not found")

// BidStatus is an accepted bid and whether it currently leads its auction
type BidStatus struct {
	Event   ledger.Event
	Leading bool
}

func clampLimit(limit int, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, MaxQueryLimit)
}

func (s *Sequencer) requireAuction(auctionID string) error {
	if _, ok := s.state.Get(auctionID); !ok {
		return ErrAuctionNotFound
	}
	return nil
}

// Leaderboard ranks the bidders of an auction by their highest accepted bid
func (s *Sequencer) Leaderboard(
	auctionID string,
	limit int,
) ([]models.LeaderboardEntry, error) {
	if err := s.requireAuction(auctionID); err != nil {
		return nil, err
	}
	return s.db.GetLeaderboard(
		auctionID,
		clampLimit(limit, DefaultLeaderboardLimit),
		nil,
	)
}

// LatestBids returns the most recent accepted bids of an auction, newest first
func (s *Sequencer) LatestBids(
	auctionID string,
	limit int,
) ([]ledger.Event, error) {
	if err := s.requireAuction(auctionID); err != nil {
		return nil, err
	}
	rows, err := s.db.GetLatestAcceptedBids(
		auctionID,
		clampLimit(limit, DefaultQueryLimit),
		nil,
	)
	if err != nil {
		return nil, err
	}
	return eventsFromModels(rows), nil
}

// BidStatus looks up an accepted bid by its bid ID
func (s *Sequencer) BidStatus(bidID string) (BidStatus, error) {
	row, err := s.db.GetBidEventByBidId(bidID, nil)
	if err != nil {
		return BidStatus{}, err
	}
	if row == nil {
		return BidStatus{}, ErrBidNotFound
	}
	evt := ledger.EventFromModel(*row)
	ret := BidStatus{Event: evt}
	if snap, ok := s.state.Get(evt.AuctionID); ok {
		ret.Leading = snap.LeadingBidderID == evt.BidderID &&
			snap.CurrentPrice.Equal(evt.Amount)
	}
	return ret, nil
}

// BidderHistory returns a bidder's recorded bids across auctions, newest
// first
func (s *Sequencer) BidderHistory(
	bidderID string,
	limit int,
	offset int,
) ([]ledger.Event, error) {
	if bidderID == "" {
		return nil, NewValidationError("bidder_id", "required")
	}
	rows, err := s.db.GetBidderEvents(
		bidderID,
		clampLimit(limit, DefaultQueryLimit),
		max(offset, 0),
		nil,
	)
	if err != nil {
		return nil, err
	}
	return eventsFromModels(rows), nil
}

// AuditLog returns the audit records of an auction read from the ledger
// itself. A toSeq of 0 reads through the tip
func (s *Sequencer) AuditLog(
	ctx context.Context,
	auctionID string,
	fromSeq uint64,
	toSeq uint64,
) ([]ledger.AuditRecord, error) {
	if err := s.requireAuction(auctionID); err != nil {
		return nil, err
	}
	events, err := s.ledger.ReadRange(ctx, auctionID, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	ret := make([]ledger.AuditRecord, 0, len(events))
	for _, evt := range events {
		ret = append(ret, evt.AuditRecord())
	}
	return ret, nil
}

func eventsFromModels(rows []models.BidEvent) []ledger.Event {
	ret := make([]ledger.Event, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, ledger.EventFromModel(row))
	}
	return ret
}

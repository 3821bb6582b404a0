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
	"fmt"
	"slices"
	"strings"

	"github.com/blinklabs-io/auctioneer/database/models"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// AutoBidChannel is the channel recorded on bids placed by an auto bid
	AutoBidChannel = "auto"
	// maxAutoBidRounds bounds the bids placed in response to one change
	maxAutoBidRounds = 64
)

func validateAutoBid(spec AutoBidSpec) error {
	if err := ledger.ValidateAuctionID(spec.AuctionID); err != nil {
		return NewValidationError("auction_id", err.Error())
	}
	if strings.TrimSpace(spec.BidderID) == "" {
		return NewValidationError("bidder_id", "required")
	}
	if len(spec.BidderID) > maxIDLength {
		return NewValidationError("bidder_id", "too long")
	}
	for field, val := range map[string]decimal.Decimal{
		"increment": spec.Increment,
		"maximum":   spec.Maximum,
	} {
		if !val.IsPositive() {
			return NewValidationError(field, "must be greater than zero")
		}
		if !val.Equal(val.Truncate(maxAmountPlaces)) {
			return NewValidationError(
				field,
				fmt.Sprintf("at most %d decimal places", maxAmountPlaces),
			)
		}
	}
	return nil
}

// SetAutoBid installs or replaces a bidder's auto bid and lets it respond
// to the current price straight away. Every bid it places is sequenced
// and recorded like any other
func (s *Sequencer) SetAutoBid(
	ctx context.Context,
	spec AutoBidSpec,
) (*models.AutoBid, error) {
	if err := validateAutoBid(spec); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.requireAuction(spec.AuctionID); err != nil {
		return nil, err
	}
	lock := s.lockFor(spec.AuctionID)
	lock.Lock()
	defer lock.Unlock()
	snap, ok := s.state.Get(spec.AuctionID)
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if err := s.ensureIndexedLocked(ctx, spec.AuctionID); err != nil {
		return nil, err
	}
	if snap.Status != state.StatusActive {
		return nil, ErrAuctionNotActive
	}
	if snap.SellerID != "" && spec.BidderID == snap.SellerID {
		return nil, NewValidationError("bidder_id", "seller cannot bid")
	}
	if spec.Increment.LessThan(snap.MinIncrement) {
		return nil, NewValidationError(
			"increment",
			"below the auction's minimum increment",
		)
	}
	if spec.Maximum.LessThanOrEqual(snap.CurrentPrice) {
		return nil, NewValidationError(
			"maximum",
			"must exceed the current price",
		)
	}
	now := s.nowFunc()
	autoBid := &models.AutoBid{
		AuctionID: spec.AuctionID,
		BidderID:  spec.BidderID,
		Increment: spec.Increment,
		Maximum:   spec.Maximum,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.SetAutoBid(autoBid, nil); err != nil {
		return nil, LedgerWriteError{AuctionID: spec.AuctionID, Err: err}
	}
	s.logger.Info(
		"auto bid set",
		"auction_id", spec.AuctionID,
		"bidder_id", spec.BidderID,
		"increment", spec.Increment.String(),
		"maximum", spec.Maximum.String(),
	)
	if err := s.runAutoBidsLocked(ctx, spec.AuctionID); err != nil {
		return nil, err
	}
	ret, err := s.db.GetAutoBid(spec.AuctionID, spec.BidderID, nil)
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, ErrAutoBidNotFound
	}
	return ret, nil
}

// AutoBid returns a bidder's auto bid on an auction
func (s *Sequencer) AutoBid(
	auctionID string,
	bidderID string,
) (*models.AutoBid, error) {
	if err := s.requireAuction(auctionID); err != nil {
		return nil, err
	}
	ret, err := s.db.GetAutoBid(auctionID, bidderID, nil)
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, ErrAutoBidNotFound
	}
	return ret, nil
}

// CancelAutoBid removes a bidder's auto bid. Bids it already placed stand
func (s *Sequencer) CancelAutoBid(
	ctx context.Context,
	auctionID string,
	bidderID string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireAuction(auctionID); err != nil {
		return err
	}
	lock := s.lockFor(auctionID)
	lock.Lock()
	defer lock.Unlock()
	deleted, err := s.db.DeleteAutoBid(auctionID, bidderID, nil)
	if err != nil {
		return LedgerWriteError{AuctionID: auctionID, Err: err}
	}
	if !deleted {
		return ErrAutoBidNotFound
	}
	s.logger.Info(
		"auto bid cancelled",
		"auction_id", auctionID,
		"bidder_id", bidderID,
	)
	return nil
}

// nextAutoBid picks the auto bid that should bid next and the amount. The
// one with the highest maximum wins, earliest first on a tie, and bids just
// enough to beat the runner-up's maximum. A leading auto bid only raises
// itself when a competitor's maximum is above the current price
func nextAutoBid(
	snap state.Snapshot,
	autoBids []models.AutoBid,
) (models.AutoBid, decimal.Decimal, bool) {
	floor := minBid(snap)
	candidates := make([]models.AutoBid, 0, len(autoBids))
	for _, autoBid := range autoBids {
		switch {
		case snap.SellerID != "" && autoBid.BidderID == snap.SellerID:
		case autoBid.Maximum.LessThanOrEqual(snap.CurrentPrice):
		case autoBid.Maximum.LessThan(floor):
		default:
			candidates = append(candidates, autoBid)
		}
	}
	if len(candidates) == 0 {
		return models.AutoBid{}, decimal.Zero, false
	}
	slices.SortStableFunc(candidates, func(a, b models.AutoBid) int {
		return b.Maximum.Cmp(a.Maximum)
	})
	winner := candidates[0]
	ceiling := snap.CurrentPrice
	if len(candidates) > 1 {
		ceiling = candidates[1].Maximum
	} else if winner.BidderID == snap.LeadingBidderID {
		return models.AutoBid{}, decimal.Zero, false
	}
	amount := decimal.Min(winner.Maximum, ceiling.Add(winner.Increment))
	if amount.LessThan(floor) {
		amount = floor
	}
	return winner, amount, true
}

// runAutoBidsLocked places auto bids until none can improve on the
// current price. Each one is its own ledger event. The caller holds the
// auction lock
func (s *Sequencer) runAutoBidsLocked(
	ctx context.Context,
	auctionID string,
) error {
	for range maxAutoBidRounds {
		if err := s.ensureIndexedLocked(ctx, auctionID); err != nil {
			return err
		}
		snap, ok := s.state.Get(auctionID)
		if !ok || snap.Status != state.StatusActive {
			return nil
		}
		if snap.EndsAt != nil && !s.nowFunc().Before(*snap.EndsAt) {
			// Past the scheduled close; the close timer ends it
			return nil
		}
		autoBids, err := s.db.GetAutoBids(auctionID, nil)
		if err != nil {
			return err
		}
		autoBid, amount, ok := nextAutoBid(snap, autoBids)
		if !ok {
			return nil
		}
		req := BidRequest{
			AuctionID: auctionID,
			BidderID:  autoBid.BidderID,
			Amount:    amount,
			Channel:   AutoBidChannel,
		}
		if reason := decide(snap, req); reason != ledger.ReasonNone {
			s.logger.Warn(
				"auto bid would be rejected",
				"auction_id", auctionID,
				"bidder_id", autoBid.BidderID,
				"amount", amount.String(),
				"reason", string(reason),
			)
			return nil
		}
		now := s.nowFunc()
		evt, err := s.appendLocked(ctx, snap, ledger.Event{
			ID:         uuid.NewString(),
			AuctionID:  auctionID,
			Type:       ledger.EventTypeBidAccepted,
			BidID:      uuid.NewString(),
			BidderID:   autoBid.BidderID,
			Amount:     amount,
			Currency:   snap.Currency,
			Channel:    AutoBidChannel,
			ServerTime: now,
		})
		if err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.autoBidsTotal.Inc()
			s.metrics.bidsTotal.WithLabelValues("accepted", "").Inc()
		}
		autoBid.BidCount++
		autoBid.LastBidAt = &evt.ServerTime
		autoBid.UpdatedAt = now
		if err := s.db.SetAutoBid(&autoBid, nil); err != nil {
			s.logger.Warn(
				"failed to update auto bid",
				"auction_id", auctionID,
				"bidder_id", autoBid.BidderID,
				"error", err,
			)
		}
		s.logger.Info(
			"auto bid placed",
			"auction_id", auctionID,
			"bidder_id", autoBid.BidderID,
			"amount", amount.String(),
			"server_seq", evt.Seq,
		)
	}
	s.logger.Warn(
		"auto bid rounds exhausted",
		"auction_id", auctionID,
		"rounds", maxAutoBidRounds,
	)
	return nil
}

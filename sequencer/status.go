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
	"fmt"
	"strings"
	"time"

	"github.com/blinklabs-io/auctioneer/database"
	"github.com/blinklabs-io/auctioneer/database/models"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
)

func validateAuctionSpec(spec AuctionSpec) error {
	if err := ledger.ValidateAuctionID(spec.ID); err != nil {
		return NewValidationError("id", err.Error())
	}
	if len(spec.SellerID) > maxIDLength {
		return NewValidationError("seller_id", "too long")
	}
	if len(spec.Currency) > 8 {
		return NewValidationError("currency", "too long")
	}
	if spec.StartingPrice.IsNegative() {
		return NewValidationError("starting_price", "must not be negative")
	}
	if spec.MinIncrement.IsNegative() {
		return NewValidationError("min_increment", "must not be negative")
	}
	if !spec.StartingPrice.Equal(spec.StartingPrice.Truncate(maxAmountPlaces)) {
		return NewValidationError(
			"starting_price",
			fmt.Sprintf("at most %d decimal places", maxAmountPlaces),
		)
	}
	return nil
}

// CreateAuction registers a new auction in the pending state
func (s *Sequencer) CreateAuction(
	ctx context.Context,
	spec AuctionSpec,
) (*state.Snapshot, error) {
	if err := validateAuctionSpec(spec); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := s.lockFor(spec.ID)
	lock.Lock()
	defer lock.Unlock()
	if _, ok := s.state.Get(spec.ID); ok {
		return nil, ErrAuctionExists
	}
	existing, err := s.db.GetAuction(spec.ID, nil)
	if err != nil {
		return nil, LedgerWriteError{AuctionID: spec.ID, Err: err}
	}
	if existing != nil {
		return nil, ErrAuctionExists
	}
	tip, err := s.ledger.Tip(spec.ID)
	if err != nil {
		return nil, LedgerWriteError{AuctionID: spec.ID, Err: err}
	}
	if tip.Seq != 0 {
		// Ledger records exist for an auction with no checkpoint
		return nil, ErrAuctionExists
	}
	currency := strings.ToUpper(strings.TrimSpace(spec.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	now := s.nowFunc()
	snap := state.Snapshot{
		AuctionID:     spec.ID,
		Status:        state.StatusPending,
		Currency:      currency,
		SellerID:      spec.SellerID,
		StartingPrice: spec.StartingPrice,
		CurrentPrice:  spec.StartingPrice,
		MinIncrement:  spec.MinIncrement,
		LastHash:      ledger.Genesis(spec.ID),
		EndsAt:        spec.EndsAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.SetAuction(snap.ToModel(), nil); err != nil {
		return nil, LedgerWriteError{AuctionID: spec.ID, Err: err}
	}
	s.state.Put(snap)
	s.armTimer(snap)
	s.logger.Info(
		"auction created",
		"auction_id", spec.ID,
		"starting_price", spec.StartingPrice.String(),
		"currency", currency,
	)
	return &snap, nil
}

func (s *Sequencer) OpenAuction(
	ctx context.Context,
	auctionID string,
) (*state.Snapshot, error) {
	return s.transition(
		ctx,
		auctionID,
		state.StatusPending,
		state.StatusActive,
		"opened",
	)
}

func (s *Sequencer) PauseAuction(
	ctx context.Context,
	auctionID string,
) (*state.Snapshot, error) {
	return s.Transition(ctx, auctionID, state.StatusPaused, "paused")
}

func (s *Sequencer) ResumeAuction(
	ctx context.Context,
	auctionID string,
) (*state.Snapshot, error) {
	return s.transition(
		ctx,
		auctionID,
		state.StatusPaused,
		state.StatusActive,
		"resumed",
	)
}

func (s *Sequencer) CloseAuction(
	ctx context.Context,
	auctionID string,
) (*state.Snapshot, error) {
	return s.Transition(ctx, auctionID, state.StatusEnded, "closed")
}

// Transition moves an auction to a new status. Status changes do not take
// a ledger sequence number. They are recorded in the status history along
// with the ledger position at which they took effect
func (s *Sequencer) Transition(
	ctx context.Context,
	auctionID string,
	to state.Status,
	reason string,
) (*state.Snapshot, error) {
	return s.transition(ctx, auctionID, "", to, reason)
}

// transition changes the status of an auction. A non-empty from requires
// the auction to currently be in that status
func (s *Sequencer) transition(
	ctx context.Context,
	auctionID string,
	from state.Status,
	to state.Status,
	reason string,
) (*state.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := s.lockFor(auctionID)
	lock.Lock()
	defer lock.Unlock()
	snap, ok := s.state.Get(auctionID)
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if err := s.ensureIndexedLocked(ctx, auctionID); err != nil {
		return nil, err
	}
	if from != "" && snap.Status != from {
		return nil, fmt.Errorf(
			"%w: %s -> %s",
			ErrInvalidTransition,
			snap.Status,
			to,
		)
	}
	next, err := s.transitionLocked(ctx, snap, to, reason)
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Sequencer) transitionLocked(
	_ context.Context,
	snap state.Snapshot,
	to state.Status,
	reason string,
) (state.Snapshot, error) {
	now := s.nowFunc()
	next, err := snap.WithStatus(to, now)
	if err != nil {
		return state.Snapshot{}, err
	}
	change := &models.AuctionStatusChange{
		AuctionID:  snap.AuctionID,
		FromStatus: string(snap.Status),
		ToStatus:   string(to),
		Reason:     reason,
		AtSeq:      snap.LastSeq,
		ChangedAt:  now,
	}
	txn := s.db.MetadataTransaction(true)
	err = txn.Do(func(txn *database.Txn) error {
		if err := s.db.SetAuction(next.ToModel(), txn); err != nil {
			return err
		}
		return s.db.AddAuctionStatusChange(change, txn)
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.ledgerWriteFailures.Inc()
		}
		return state.Snapshot{}, LedgerWriteError{
			AuctionID: snap.AuctionID,
			Err:       err,
		}
	}
	next, err = s.state.ApplyStatus(snap.AuctionID, to, now)
	if err != nil {
		return state.Snapshot{}, err
	}
	if to == state.StatusEnded {
		s.disarmTimer(snap.AuctionID)
	}
	if s.metrics != nil {
		s.metrics.statusTransitions.WithLabelValues(string(to)).Inc()
	}
	s.logger.Info(
		"auction status changed",
		"auction_id", snap.AuctionID,
		"from", snap.Status,
		"to", to,
		"reason", reason,
		"at_seq", snap.LastSeq,
	)
	s.publisher.PublishStatus(snap.Status, next)
	return next, nil
}

// StatusHistory returns the recorded status changes of an auction
func (s *Sequencer) StatusHistory(
	auctionID string,
) ([]models.AuctionStatusChange, error) {
	return s.db.GetAuctionStatusChanges(auctionID, nil)
}

// armTimer schedules the automatic close of an auction with an end time
func (s *Sequencer) armTimer(snap state.Snapshot) {
	if snap.EndsAt == nil || snap.Status.Terminal() {
		return
	}
	s.timersMutex.Lock()
	defer s.timersMutex.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[snap.AuctionID]; ok {
		t.Stop()
	}
	auctionID := snap.AuctionID
	delay := max(snap.EndsAt.Sub(s.nowFunc()), 0)
	s.timers[auctionID] = time.AfterFunc(delay, func() {
		s.closeScheduled(auctionID)
	})
}

func (s *Sequencer) disarmTimer(auctionID string) {
	s.timersMutex.Lock()
	defer s.timersMutex.Unlock()
	if t, ok := s.timers[auctionID]; ok {
		t.Stop()
		delete(s.timers, auctionID)
	}
}

func (s *Sequencer) closeScheduled(auctionID string) {
	s.timersMutex.Lock()
	stopped := s.stopped
	delete(s.timers, auctionID)
	s.timersMutex.Unlock()
	if stopped {
		return
	}
	_, err := s.Transition(
		context.Background(),
		auctionID,
		state.StatusEnded,
		"scheduled close",
	)
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		s.logger.Error(
			"scheduled close failed",
			"auction_id", auctionID,
			"error", err,
		)
	}
}

// Stop cancels pending scheduled closes
func (s *Sequencer) Stop() {
	s.timersMutex.Lock()
	defer s.timersMutex.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

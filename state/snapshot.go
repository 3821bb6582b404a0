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

package state

import (
	"bytes"
	"fmt"
	"time"

	"github.com/blinklabs-io/auctioneer/database/models"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/shopspring/decimal"
)

// Snapshot is the point-in-time state of a single auction. Snapshots are
// values and are never modified once published
type Snapshot struct {
	AuctionID       string
	Status          Status
	Currency        string
	SellerID        string
	LeadingBidderID string
	StartingPrice   decimal.Decimal
	CurrentPrice    decimal.Decimal
	MinIncrement    decimal.Decimal
	LastSeq         uint64
	LastHash        []byte
	BidCount        uint64
	// StatusVersion counts status transitions. Status broadcasts carry it
	// so consumers can discard ones their snapshot already reflects
	StatusVersion uint64
	OpenedAt      *time.Time
	ClosedAt      *time.Time
	EndsAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	tmp := *t
	return &tmp
}

func (s Snapshot) Clone() Snapshot {
	ret := s
	ret.LastHash = bytes.Clone(s.LastHash)
	ret.OpenedAt = cloneTime(s.OpenedAt)
	ret.ClosedAt = cloneTime(s.ClosedAt)
	ret.EndsAt = cloneTime(s.EndsAt)
	return ret
}

// MinNextBid returns the lowest amount that could currently be accepted
// when a minimum increment is set. Without one any amount above the
// current price is accepted
func (s Snapshot) MinNextBid() decimal.Decimal {
	return s.CurrentPrice.Add(s.MinIncrement)
}

// WithStatus returns a copy of the snapshot moved to the given status
func (s Snapshot) WithStatus(next Status, at time.Time) (Snapshot, error) {
	if !s.Status.CanTransitionTo(next) {
		return Snapshot{}, fmt.Errorf(
			"%w: %s -> %s",
			ErrInvalidTransition,
			s.Status,
			next,
		)
	}
	ret := s.Clone()
	ret.Status = next
	ret.StatusVersion++
	ret.UpdatedAt = at
	switch next {
	case StatusActive:
		if ret.OpenedAt == nil {
			ret.OpenedAt = &at
		}
	case StatusEnded:
		ret.ClosedAt = &at
	}
	return ret, nil
}

// Fold applies ledger events on top of base. Events at or below the base's
// LastSeq are skipped, so folding is idempotent
func Fold(base Snapshot, events ...ledger.Event) Snapshot {
	ret := base.Clone()
	for _, evt := range events {
		if evt.Seq <= ret.LastSeq {
			continue
		}
		ret.LastSeq = evt.Seq
		ret.LastHash = bytes.Clone(evt.HashCurr)
		if !evt.ServerTime.IsZero() {
			ret.UpdatedAt = evt.ServerTime
		}
		if evt.Accepted() {
			ret.CurrentPrice = evt.Amount
			ret.LeadingBidderID = evt.BidderID
			ret.BidCount++
		}
	}
	return ret
}

// ToModel returns the durable checkpoint row for the snapshot
func (s Snapshot) ToModel() *models.Auction {
	return &models.Auction{
		ID:              s.AuctionID,
		Status:          string(s.Status),
		Currency:        s.Currency,
		SellerID:        s.SellerID,
		LeadingBidderID: s.LeadingBidderID,
		StartingPrice:   s.StartingPrice,
		CurrentPrice:    s.CurrentPrice,
		MinIncrement:    s.MinIncrement,
		LastHash:        bytes.Clone(s.LastHash),
		LastSeq:         s.LastSeq,
		BidCount:        s.BidCount,
		StatusVersion:   s.StatusVersion,
		OpenedAt:        cloneTime(s.OpenedAt),
		ClosedAt:        cloneTime(s.ClosedAt),
		EndsAt:          cloneTime(s.EndsAt),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func SnapshotFromModel(m models.Auction) (Snapshot, error) {
	status, err := ParseStatus(m.Status)
	if err != nil {
		return Snapshot{}, err
	}
	utc := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		tmp := t.UTC()
		return &tmp
	}
	return Snapshot{
		AuctionID:       m.ID,
		Status:          status,
		Currency:        m.Currency,
		SellerID:        m.SellerID,
		LeadingBidderID: m.LeadingBidderID,
		StartingPrice:   m.StartingPrice,
		CurrentPrice:    m.CurrentPrice,
		MinIncrement:    m.MinIncrement,
		LastSeq:         m.LastSeq,
		LastHash:        bytes.Clone(m.LastHash),
		BidCount:        m.BidCount,
		StatusVersion:   m.StatusVersion,
		OpenedAt:        utc(m.OpenedAt),
		ClosedAt:        utc(m.ClosedAt),
		EndsAt:          utc(m.EndsAt),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}, nil
}

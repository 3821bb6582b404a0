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

package gormstore

import (
	"errors"

	"github.com/blinklabs-io/auctioneer/database/models"
	"github.com/blinklabs-io/auctioneer/database/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const eventTypeBidAccepted = "bid_accepted"

// AddBidEvent indexes a ledger record. Re-indexing the same (auction, seq)
// is a no-op
func (s *Store) AddBidEvent(evt *models.BidEvent, txn types.Txn) error {
	db, err := s.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(evt).Error
}

// DeleteBidEvents removes index rows of an auction with seq >= fromSeq
func (s *Store) DeleteBidEvents(
	auctionId string,
	fromSeq uint64,
	txn types.Txn,
) error {
	db, err := s.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Where("auction_id = ? AND seq >= ?", auctionId, fromSeq).
		Delete(&models.BidEvent{}).Error
}

// GetBidEvents returns the indexed events of an auction in seq order.
// A toSeq of 0 means no upper bound
func (s *Store) GetBidEvents(
	auctionId string,
	fromSeq uint64,
	toSeq uint64,
	txn types.Txn,
) ([]models.BidEvent, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	query := db.Where("auction_id = ? AND seq >= ?", auctionId, fromSeq)
	if toSeq > 0 {
		query = query.Where("seq <= ?", toSeq)
	}
	var ret []models.BidEvent
	if result := query.Order("seq").Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetBidEventByBidId returns the accepted event for a bid ID, or nil
func (s *Store) GetBidEventByBidId(
	bidId string,
	txn types.Txn,
) (*models.BidEvent, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	ret := &models.BidEvent{}
	result := db.First(ret, "bid_id = ?", bidId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetLatestAcceptedBids returns the most recent accepted events, newest first
func (s *Store) GetLatestAcceptedBids(
	auctionId string,
	limit int,
	txn types.Txn,
) ([]models.BidEvent, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.BidEvent
	result := db.Where(
		"auction_id = ? AND event_type = ?",
		auctionId,
		eventTypeBidAccepted,
	).Order("seq DESC").Limit(limit).Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetBidderEvents returns a bidder's events across all auctions, newest first
func (s *Store) GetBidderEvents(
	bidderId string,
	limit int,
	offset int,
	txn types.Txn,
) ([]models.BidEvent, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.BidEvent
	result := db.Where("bidder_id = ?", bidderId).
		Order("server_time DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetLeaderboard ranks bidders by their highest accepted bid. Accepted
// amounts strictly increase with seq, so the highest bid is the one with
// the highest seq
func (s *Store) GetLeaderboard(
	auctionId string,
	limit int,
	txn types.Txn,
) ([]models.LeaderboardEntry, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		BidderID string
		MaxSeq   uint64
		BidCount int64
	}
	result := db.Model(&models.BidEvent{}).
		Select("bidder_id, MAX(seq) AS max_seq, COUNT(*) AS bid_count").
		Where("auction_id = ? AND event_type = ?", auctionId, eventTypeBidAccepted).
		Group("bidder_id").
		Order("max_seq DESC").
		Limit(limit).
		Scan(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(rows) == 0 {
		return nil, nil
	}
	seqs := make([]uint64, 0, len(rows))
	for _, row := range rows {
		seqs = append(seqs, row.MaxSeq)
	}
	var events []models.BidEvent
	result = db.Where("auction_id = ? AND seq IN ?", auctionId, seqs).
		Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}
	amounts := make(map[uint64]models.BidEvent, len(events))
	for _, evt := range events {
		amounts[evt.Seq] = evt
	}
	ret := make([]models.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, models.LeaderboardEntry{
			BidderID:  row.BidderID,
			MaxSeq:    row.MaxSeq,
			MaxAmount: amounts[row.MaxSeq].Amount,
			BidCount:  row.BidCount,
		})
	}
	return ret, nil
}

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

// SetAutoBid inserts or replaces the auto bid of a bidder on an auction. A
// row that was read from the store (non-zero ID) is updated in place
func (s *Store) SetAutoBid(autoBid *models.AutoBid, txn types.Txn) error {
	db, err := s.resolveDB(txn)
	if err != nil {
		return err
	}
	if autoBid.ID != 0 {
		return db.Save(autoBid).Error
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "auction_id"},
			{Name: "bidder_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"increment",
			"maximum",
			"bid_count",
			"last_bid_at",
			"updated_at",
		}),
	}).Create(autoBid).Error
}

// GetAutoBid returns the auto bid of a bidder, or nil if there is none
func (s *Store) GetAutoBid(
	auctionId string,
	bidderId string,
	txn types.Txn,
) (*models.AutoBid, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	ret := &models.AutoBid{}
	result := db.First(
		ret,
		"auction_id = ? AND bidder_id = ?",
		auctionId,
		bidderId,
	)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetAutoBids returns the auto bids on an auction in creation order
func (s *Store) GetAutoBids(
	auctionId string,
	txn types.Txn,
) ([]models.AutoBid, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.AutoBid
	result := db.Where("auction_id = ?", auctionId).Order("id").Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// DeleteAutoBid removes the auto bid of a bidder and reports whether one
// existed
func (s *Store) DeleteAutoBid(
	auctionId string,
	bidderId string,
	txn types.Txn,
) (bool, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return false, err
	}
	result := db.Where(
		"auction_id = ? AND bidder_id = ?",
		auctionId,
		bidderId,
	).Delete(&models.AutoBid{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

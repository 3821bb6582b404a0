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

// GetAuction returns the auction checkpoint, or nil if it does not exist
func (s *Store) GetAuction(id string, txn types.Txn) (*models.Auction, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	ret := &models.Auction{}
	result := db.First(ret, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetAuctions returns all auction checkpoints ordered by ID
func (s *Store) GetAuctions(txn types.Txn) ([]models.Auction, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.Auction
	if result := db.Order("id").Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// SetAuction inserts or replaces an auction checkpoint
func (s *Store) SetAuction(auction *models.Auction, txn types.Txn) error {
	db, err := s.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(auction).Error
}

func (s *Store) AddAuctionStatusChange(
	change *models.AuctionStatusChange,
	txn types.Txn,
) error {
	db, err := s.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Create(change).Error
}

func (s *Store) GetAuctionStatusChanges(
	auctionId string,
	txn types.Txn,
) ([]models.AuctionStatusChange, error) {
	db, err := s.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.AuctionStatusChange
	result := db.Where("auction_id = ?", auctionId).Order("id").Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

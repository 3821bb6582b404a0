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

package database

import (
	"github.com/blinklabs-io/auctioneer/database/models"
)

// GetAuction returns the stored checkpoint for an auction, or nil if the
// auction is unknown
func (d *Database) GetAuction(
	auctionID string,
	txn *Txn,
) (*models.Auction, error) {
	return d.metadata.GetAuction(auctionID, metadataTxn(txn))
}

func (d *Database) GetAuctions(txn *Txn) ([]models.Auction, error) {
	return d.metadata.GetAuctions(metadataTxn(txn))
}

// SetAuction creates or replaces the checkpoint for an auction
func (d *Database) SetAuction(auction *models.Auction, txn *Txn) error {
	return d.metadata.SetAuction(auction, metadataTxn(txn))
}

func (d *Database) AddAuctionStatusChange(
	change *models.AuctionStatusChange,
	txn *Txn,
) error {
	return d.metadata.AddAuctionStatusChange(change, metadataTxn(txn))
}

func (d *Database) GetAuctionStatusChanges(
	auctionID string,
	txn *Txn,
) ([]models.AuctionStatusChange, error) {
	return d.metadata.GetAuctionStatusChanges(auctionID, metadataTxn(txn))
}

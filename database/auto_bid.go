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

func (d *Database) SetAutoBid(autoBid *models.AutoBid, txn *Txn) error {
	return d.metadata.SetAutoBid(autoBid, metadataTxn(txn))
}

// GetAutoBid returns the auto bid of a bidder on an auction, or nil if
// there is none
func (d *Database) GetAutoBid(
	auctionID string,
	bidderID string,
	txn *Txn,
) (*models.AutoBid, error) {
	return d.metadata.GetAutoBid(auctionID, bidderID, metadataTxn(txn))
}

func (d *Database) GetAutoBids(
	auctionID string,
	txn *Txn,
) ([]models.AutoBid, error) {
	return d.metadata.GetAutoBids(auctionID, metadataTxn(txn))
}

// DeleteAutoBid removes the auto bid of a bidder and reports whether one
// existed
func (d *Database) DeleteAutoBid(
	auctionID string,
	bidderID string,
	txn *Txn,
) (bool, error) {
	return d.metadata.DeleteAutoBid(auctionID, bidderID, metadataTxn(txn))
}

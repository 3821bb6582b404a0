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

// AddBidEvent indexes a ledger record. Adding a record that is already
// indexed is a no-op
func (d *Database) AddBidEvent(evt *models.BidEvent, txn *Txn) error {
	return d.metadata.AddBidEvent(evt, metadataTxn(txn))
}

// DeleteBidEvents removes indexed records for an auction starting at fromSeq
func (d *Database) DeleteBidEvents(
	auctionID string,
	fromSeq uint64,
	txn *Txn,
) error {
	return d.metadata.DeleteBidEvents(auctionID, fromSeq, metadataTxn(txn))
}

// GetBidEvents returns indexed records in the range [fromSeq, toSeq]. A toSeq
// of 0 leaves the range open ended
func (d *Database) GetBidEvents(
	auctionID string,
	fromSeq uint64,
	toSeq uint64,
	txn *Txn,
) ([]models.BidEvent, error) {
	return d.metadata.GetBidEvents(
		auctionID,
		fromSeq,
		toSeq,
		metadataTxn(txn),
	)
}

func (d *Database) GetBidEventByBidId(
	bidID string,
	txn *Txn,
) (*models.BidEvent, error) {
	return d.metadata.GetBidEventByBidId(bidID, metadataTxn(txn))
}

func (d *Database) GetLatestAcceptedBids(
	auctionID string,
	limit int,
	txn *Txn,
) ([]models.BidEvent, error) {
	return d.metadata.GetLatestAcceptedBids(auctionID, limit, metadataTxn(txn))
}

func (d *Database) GetBidderEvents(
	bidderID string,
	limit int,
	offset int,
	txn *Txn,
) ([]models.BidEvent, error) {
	return d.metadata.GetBidderEvents(bidderID, limit, offset, metadataTxn(txn))
}

func (d *Database) GetLeaderboard(
	auctionID string,
	limit int,
	txn *Txn,
) ([]models.LeaderboardEntry, error) {
	return d.metadata.GetLeaderboard(auctionID, limit, metadataTxn(txn))
}

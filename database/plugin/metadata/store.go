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

package metadata

import (
	"fmt"

	"github.com/blinklabs-io/auctioneer/database/models"
	"github.com/blinklabs-io/auctioneer/database/plugin"
	"github.com/blinklabs-io/auctioneer/database/types"
	"gorm.io/gorm"
)

type MetadataStore interface {
	// Database
	Close() error
	DB() *gorm.DB
	GetCommitTimestamp() (int64, error)
	SetCommitTimestamp(int64, types.Txn) error
	Transaction() types.Txn

	// Auctions
	GetAuction(string, types.Txn) (*models.Auction, error)
	GetAuctions(types.Txn) ([]models.Auction, error)
	SetAuction(*models.Auction, types.Txn) error
	AddAuctionStatusChange(*models.AuctionStatusChange, types.Txn) error
	GetAuctionStatusChanges(
		string,
		types.Txn,
	) ([]models.AuctionStatusChange, error)

	// Auto bids
	SetAutoBid(*models.AutoBid, types.Txn) error
	GetAutoBid(string, string, types.Txn) (*models.AutoBid, error)
	GetAutoBids(string, types.Txn) ([]models.AutoBid, error)
	DeleteAutoBid(string, string, types.Txn) (bool, error)

	// Bid event index
	AddBidEvent(*models.BidEvent, types.Txn) error
	DeleteBidEvents(string, uint64, types.Txn) error
	GetBidEvents(string, uint64, uint64, types.Txn) ([]models.BidEvent, error)
	GetBidEventByBidId(string, types.Txn) (*models.BidEvent, error)
	GetLatestAcceptedBids(string, int, types.Txn) ([]models.BidEvent, error)
	GetBidderEvents(string, int, int, types.Txn) ([]models.BidEvent, error)
	GetLeaderboard(string, int, types.Txn) ([]models.LeaderboardEntry, error)
}

// New returns the started metadata plugin selected by name
func New(
	pluginName string,
	pctx plugin.PluginContext,
) (MetadataStore, error) {
	p, err := plugin.StartPlugin(plugin.PluginTypeMetadata, pluginName, pctx)
	if err != nil {
		return nil, err
	}
	metadataStore, ok := p.(MetadataStore)
	if !ok {
		_ = p.Stop()
		return nil, fmt.Errorf(
			"plugin '%s' does not implement MetadataStore interface",
			pluginName,
		)
	}
	return metadataStore, nil
}

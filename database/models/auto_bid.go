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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AutoBid is a bidder's standing instruction to outbid competitors in
// steps of Increment until Maximum is reached. There is at most one per
// bidder and auction
type AutoBid struct {
	ID        uint            `gorm:"primarykey"`
	AuctionID string          `gorm:"size:128;not null;uniqueIndex:idx_auto_bid_auction_bidder,priority:1"`
	BidderID  string          `gorm:"size:128;not null;uniqueIndex:idx_auto_bid_auction_bidder,priority:2"`
	Increment decimal.Decimal `gorm:"type:varchar(80);not null"`
	Maximum   decimal.Decimal `gorm:"type:varchar(80);not null"`
	// BidCount is the number of bids placed on the bidder's behalf
	BidCount  uint64
	LastBidAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AutoBid) TableName() string {
	return "auto_bid"
}

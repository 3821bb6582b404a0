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

// BidEvent is the queryable index copy of a ledger record. The ledger in
// the blob store is authoritative and the index can be rebuilt from it
type BidEvent struct {
	ID         uint            `gorm:"primarykey"`
	EventID    string          `gorm:"size:36;uniqueIndex;not null"`
	AuctionID  string          `gorm:"size:128;not null;uniqueIndex:idx_bid_event_auction_seq,priority:1"`
	Seq        uint64          `gorm:"not null;uniqueIndex:idx_bid_event_auction_seq,priority:2"`
	BidID      string          `gorm:"size:36;index"`
	BidderID   string          `gorm:"size:128;index;not null"`
	Amount     decimal.Decimal `gorm:"type:varchar(80);not null"`
	Currency   string          `gorm:"size:8"`
	Channel    string          `gorm:"size:32"`
	EventType  string          `gorm:"size:32;index;not null"`
	ReasonCode string          `gorm:"size:32"`
	IPAddr     string          `gorm:"size:64"`
	UserAgent  string          `gorm:"size:512"`
	SessionID  string          `gorm:"size:128"`
	HashPrev   []byte
	HashCurr   []byte
	ServerTime time.Time `gorm:"not null"`
	ClientTime *time.Time
}

func (BidEvent) TableName() string {
	return "bid_event"
}

// LeaderboardEntry is one row of an auction leaderboard. Accepted bids
// strictly increase, so a bidder's highest bid is their latest accepted one
type LeaderboardEntry struct {
	BidderID  string
	MaxAmount decimal.Decimal
	MaxSeq    uint64
	BidCount  int64
}

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

// Auction is the durable checkpoint of an auction's folded state. It is
// written in the same transaction as the ledger record that produced it
type Auction struct {
	ID              string          `gorm:"primarykey;size:128"`
	Status          string          `gorm:"size:16;index;not null"`
	Currency        string          `gorm:"size:8;not null"`
	SellerID        string          `gorm:"size:128"`
	LeadingBidderID string          `gorm:"size:128"`
	StartingPrice   decimal.Decimal `gorm:"type:varchar(80);not null"`
	CurrentPrice    decimal.Decimal `gorm:"type:varchar(80);not null"`
	MinIncrement    decimal.Decimal `gorm:"type:varchar(80);not null"`
	LastHash        []byte
	LastSeq         uint64
	BidCount        uint64
	StatusVersion   uint64
	OpenedAt        *time.Time
	ClosedAt        *time.Time
	EndsAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Auction) TableName() string {
	return "auction"
}

// AuctionStatusChange records one transition of the auction state machine
type AuctionStatusChange struct {
	ID         uint   `gorm:"primarykey"`
	AuctionID  string `gorm:"size:128;index;not null"`
	FromStatus string `gorm:"size:16;not null"`
	ToStatus   string `gorm:"size:16;not null"`
	Reason     string `gorm:"size:255"`
	// AtSeq is the ledger tip when the transition was committed
	AtSeq     uint64
	ChangedAt time.Time
}

func (AuctionStatusChange) TableName() string {
	return "auction_status_change"
}

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

package sequencer

import (
	"time"

	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/shopspring/decimal"
)

const (
	DefaultCurrency = "USD"
	// maxAmountPlaces is the number of fractional digits accepted in a bid
	maxAmountPlaces = 8
	maxIDLength     = 128
	maxFieldLength  = 512
)

// BidRequest is a bid from an already authenticated bidder
type BidRequest struct {
	AuctionID  string
	BidderID   string
	Amount     decimal.Decimal
	ClientTime *time.Time
	Channel    string
	SessionID  string
	IPAddr     string
	UserAgent  string
}

// AutoBidSpec is a bidder's instruction to outbid competing bids in steps
// of Increment up to Maximum
type AutoBidSpec struct {
	AuctionID string
	BidderID  string
	Increment decimal.Decimal
	Maximum   decimal.Decimal
}

// AuctionSpec describes a new auction
type AuctionSpec struct {
	ID            string
	SellerID      string
	Currency      string
	StartingPrice decimal.Decimal
	MinIncrement  decimal.Decimal
	EndsAt        *time.Time
}

// Publisher receives every committed change. Implementations must not block
type Publisher interface {
	PublishEvent(ledger.Event, state.Snapshot)
	PublishStatus(from state.Status, snap state.Snapshot)
}

type nopPublisher struct{}

func (nopPublisher) PublishEvent(ledger.Event, state.Snapshot) {}

func (nopPublisher) PublishStatus(state.Status, state.Snapshot) {}

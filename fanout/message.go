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

package fanout

import (
	"time"

	"github.com/blinklabs-io/auctioneer/event"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/shopspring/decimal"
)

type MessageType string

const (
	// MessageNewBid announces a recorded bid that did not change the price
	MessageNewBid MessageType = "new_bid"
	// MessagePriceUpdated announces an accepted bid
	MessagePriceUpdated MessageType = "price_updated"
	// MessageStatusChanged announces an auction status transition. Its
	// server_seq is the ledger position at which the change took effect
	MessageStatusChanged MessageType = "auction_status_changed"
)

const topicPrefix = "auction."

// Message is a single broadcast on an auction topic
type Message struct {
	Type            MessageType         `json:"type"`
	AuctionID       string              `json:"auction_id"`
	ServerSeq       uint64              `json:"server_seq"`
	Event           *ledger.AuditRecord `json:"event,omitempty"`
	CurrentPrice    *decimal.Decimal    `json:"current_price,omitempty"`
	LeadingBidderID string              `json:"leading_bidder_id,omitempty"`
	Status          state.Status        `json:"status,omitempty"`
	PreviousStatus  state.Status        `json:"previous_status,omitempty"`
	StatusVersion   uint64              `json:"status_version,omitempty"`
	Timestamp       time.Time           `json:"ts"`
}

// Sequenced reports whether the message corresponds to a ledger event
func (m Message) Sequenced() bool {
	return m.Type != MessageStatusChanged
}

// AuctionTopic returns the event bus topic of an auction
func AuctionTopic(auctionID string) event.Topic {
	return event.Topic(topicPrefix + auctionID)
}

// MessageFromEvent builds the broadcast for a ledger event
func MessageFromEvent(evt ledger.Event) Message {
	record := evt.AuditRecord()
	msg := Message{
		Type:      MessageNewBid,
		AuctionID: evt.AuctionID,
		ServerSeq: evt.Seq,
		Event:     &record,
		Timestamp: evt.ServerTime,
	}
	if evt.Accepted() {
		price := evt.Amount
		msg.Type = MessagePriceUpdated
		msg.CurrentPrice = &price
		msg.LeadingBidderID = evt.BidderID
	}
	return msg
}

// StatusMessage builds the broadcast for a status transition
func StatusMessage(from state.Status, snap state.Snapshot) Message {
	price := snap.CurrentPrice
	return Message{
		Type:            MessageStatusChanged,
		AuctionID:       snap.AuctionID,
		ServerSeq:       snap.LastSeq,
		CurrentPrice:    &price,
		LeadingBidderID: snap.LeadingBidderID,
		Status:          snap.Status,
		PreviousStatus:  from,
		StatusVersion:   snap.StatusVersion,
		Timestamp:       snap.UpdatedAt,
	}
}

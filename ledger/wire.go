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

package ledger

import (
	"encoding/hex"
	"time"

	"github.com/blinklabs-io/auctioneer/database/models"
	"github.com/shopspring/decimal"
)

// AuditRecord is the external JSON form of a ledger event
type AuditRecord struct {
	ID          string          `json:"id"`
	AuctionID   string          `json:"auction_id"`
	BidID       string          `json:"bid_id,omitempty"`
	BidderID    string          `json:"bidder_id"`
	BidAmount   decimal.Decimal `json:"bid_amount"`
	Currency    string          `json:"currency"`
	Channel     string          `json:"channel,omitempty"`
	EventType   EventType       `json:"event_type"`
	ReasonCode  ReasonCode      `json:"reason_code,omitempty"`
	ServerTsUtc time.Time       `json:"server_ts_utc"`
	ClientTs    *time.Time      `json:"client_ts,omitempty"`
	ServerSeq   uint64          `json:"server_nano_seq"`
	IPAddr      string          `json:"ip_addr,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	HashPrev    string          `json:"hash_prev"`
	HashCurr    string          `json:"hash_curr"`
}

func (e Event) AuditRecord() AuditRecord {
	return AuditRecord{
		ID:          e.ID,
		AuctionID:   e.AuctionID,
		BidID:       e.BidID,
		BidderID:    e.BidderID,
		BidAmount:   e.Amount,
		Currency:    e.Currency,
		Channel:     e.Channel,
		EventType:   e.Type,
		ReasonCode:  e.ReasonCode,
		ServerTsUtc: e.ServerTime.UTC(),
		ClientTs:    e.ClientTime,
		ServerSeq:   e.Seq,
		IPAddr:      e.IPAddr,
		UserAgent:   e.UserAgent,
		SessionID:   e.SessionID,
		HashPrev:    hex.EncodeToString(e.HashPrev),
		HashCurr:    hex.EncodeToString(e.HashCurr),
	}
}

// ToModel returns the metadata index row for the event
func (e Event) ToModel() *models.BidEvent {
	return &models.BidEvent{
		EventID:    e.ID,
		AuctionID:  e.AuctionID,
		Seq:        e.Seq,
		BidID:      e.BidID,
		BidderID:   e.BidderID,
		Amount:     e.Amount,
		Currency:   e.Currency,
		Channel:    e.Channel,
		EventType:  string(e.Type),
		ReasonCode: string(e.ReasonCode),
		IPAddr:     e.IPAddr,
		UserAgent:  e.UserAgent,
		SessionID:  e.SessionID,
		HashPrev:   e.HashPrev,
		HashCurr:   e.HashCurr,
		ServerTime: e.ServerTime,
		ClientTime: e.ClientTime,
	}
}

// EventFromModel rebuilds an event from its index row
func EventFromModel(m models.BidEvent) Event {
	return Event{
		ID:         m.EventID,
		AuctionID:  m.AuctionID,
		Seq:        m.Seq,
		Type:       EventType(m.EventType),
		BidID:      m.BidID,
		BidderID:   m.BidderID,
		Amount:     m.Amount,
		Currency:   m.Currency,
		Channel:    m.Channel,
		ReasonCode: ReasonCode(m.ReasonCode),
		ServerTime: m.ServerTime.UTC(),
		ClientTime: m.ClientTime,
		IPAddr:     m.IPAddr,
		UserAgent:  m.UserAgent,
		SessionID:  m.SessionID,
		HashPrev:   m.HashPrev,
		HashCurr:   m.HashCurr,
	}
}

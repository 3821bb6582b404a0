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

package api

import (
	"encoding/hex"
	"time"

	"github.com/blinklabs-io/auctioneer/database/models"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/blinklabs-io/auctioneer/verifier"
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
}

type SubmitBidRequest struct {
	BidderID  string          `json:"bidder_id"`
	BidAmount decimal.Decimal `json:"bid_amount"`
	ClientTs  *time.Time      `json:"client_ts,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

type SubmitBidResponse struct {
	Status     string            `json:"status"`
	ReasonCode ledger.ReasonCode `json:"reason_code,omitempty"`
	ServerSeq  uint64            `json:"server_seq"`
	BidID      string            `json:"bid_id,omitempty"`
}

type AutoBidRequest struct {
	Increment decimal.Decimal `json:"increment"`
	Maximum   decimal.Decimal `json:"maximum"`
}

type AutoBidResponse struct {
	AuctionID string           `json:"auction_id"`
	BidderID  string           `json:"bidder_id"`
	Active    bool             `json:"active"`
	Increment *decimal.Decimal `json:"increment,omitempty"`
	Maximum   *decimal.Decimal `json:"maximum,omitempty"`
	BidCount  uint64           `json:"bid_count"`
	LastBidAt *time.Time       `json:"last_bid_at,omitempty"`
}

func autoBidResponse(autoBid *models.AutoBid) AutoBidResponse {
	return AutoBidResponse{
		AuctionID: autoBid.AuctionID,
		BidderID:  autoBid.BidderID,
		Active:    true,
		Increment: &autoBid.Increment,
		Maximum:   &autoBid.Maximum,
		BidCount:  autoBid.BidCount,
		LastBidAt: autoBid.LastBidAt,
	}
}

type CreateAuctionRequest struct {
	ID            string          `json:"id"`
	SellerID      string          `json:"seller_id,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	MinIncrement  decimal.Decimal `json:"min_increment"`
	EndsAt        *time.Time      `json:"ends_at,omitempty"`
}

type AuctionResponse struct {
	ID              string          `json:"id"`
	Status          state.Status    `json:"status"`
	Currency        string          `json:"currency"`
	SellerID        string          `json:"seller_id,omitempty"`
	LeadingBidderID string          `json:"leading_bidder_id,omitempty"`
	StartingPrice   decimal.Decimal `json:"starting_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	MinIncrement    decimal.Decimal `json:"min_increment"`
	MinNextBid      decimal.Decimal `json:"min_next_bid"`
	LastSeq         uint64          `json:"last_seq"`
	LastHash        string          `json:"last_hash"`
	BidCount        uint64          `json:"bid_count"`
	OpenedAt        *time.Time      `json:"opened_at,omitempty"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	EndsAt          *time.Time      `json:"ends_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func auctionResponse(snap state.Snapshot) AuctionResponse {
	return AuctionResponse{
		ID:              snap.AuctionID,
		Status:          snap.Status,
		Currency:        snap.Currency,
		SellerID:        snap.SellerID,
		LeadingBidderID: snap.LeadingBidderID,
		StartingPrice:   snap.StartingPrice,
		CurrentPrice:    snap.CurrentPrice,
		MinIncrement:    snap.MinIncrement,
		MinNextBid:      snap.MinNextBid(),
		LastSeq:         snap.LastSeq,
		LastHash:        hex.EncodeToString(snap.LastHash),
		BidCount:        snap.BidCount,
		OpenedAt:        snap.OpenedAt,
		ClosedAt:        snap.ClosedAt,
		EndsAt:          snap.EndsAt,
		CreatedAt:       snap.CreatedAt,
		UpdatedAt:       snap.UpdatedAt,
	}
}

type LeaderboardEntryResponse struct {
	Rank      int             `json:"rank"`
	BidderID  string          `json:"bidder_id"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	BidCount  int64           `json:"bid_count"`
	LastSeq   uint64          `json:"last_seq"`
}

func leaderboardResponse(
	entries []models.LeaderboardEntry,
) []LeaderboardEntryResponse {
	ret := make([]LeaderboardEntryResponse, 0, len(entries))
	for i, entry := range entries {
		ret = append(ret, LeaderboardEntryResponse{
			Rank:      i + 1,
			BidderID:  entry.BidderID,
			MaxAmount: entry.MaxAmount,
			BidCount:  entry.BidCount,
			LastSeq:   entry.MaxSeq,
		})
	}
	return ret
}

type BidStatusResponse struct {
	Event   ledger.AuditRecord `json:"event"`
	Leading bool               `json:"leading"`
}

type StatusChangeResponse struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	AtSeq     uint64    `json:"at_seq"`
	ChangedAt time.Time `json:"changed_at"`
}

type VerifyResponse struct {
	AuctionID    string `json:"auction_id"`
	Valid        bool   `json:"valid"`
	InvalidAtSeq uint64 `json:"invalid_at_seq,omitempty"`
	Checked      uint64 `json:"checked"`
	TipSeq       uint64 `json:"tip_seq"`
	Error        string `json:"error,omitempty"`
}

func verifyResponse(res verifier.Result) VerifyResponse {
	ret := VerifyResponse{
		AuctionID:    res.AuctionID,
		Valid:        res.Valid,
		InvalidAtSeq: res.InvalidAtSeq,
		Checked:      res.Checked,
		TipSeq:       res.TipSeq,
	}
	if res.Err != nil {
		ret.Error = res.Err.Error()
	}
	return ret
}

func auditRecords(events []ledger.Event) []ledger.AuditRecord {
	ret := make([]ledger.AuditRecord, 0, len(events))
	for _, evt := range events {
		ret = append(ret, evt.AuditRecord())
	}
	return ret
}

// WebSocket control frame types. Data frames are fanout messages
const (
	frameSnapshot    = "snapshot"
	frameResubscribe = "resubscribe"
)

type SnapshotFrame struct {
	Type      string          `json:"type"`
	ServerSeq uint64          `json:"server_seq"`
	Auction   AuctionResponse `json:"auction"`
	Replayed  int             `json:"replayed"`
}

type ResubscribeFrame struct {
	Type     string `json:"type"`
	SinceSeq uint64 `json:"since_seq"`
}

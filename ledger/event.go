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
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTypeBidAccepted EventType = "bid_accepted"
	EventTypeBidRejected EventType = "bid_rejected"
)

type ReasonCode string

const (
	ReasonNone              ReasonCode = ""
	ReasonPriceTooLow       ReasonCode = "PRICE_TOO_LOW"
	ReasonAuctionNotActive  ReasonCode = "AUCTION_NOT_ACTIVE"
	ReasonIncrementTooSmall ReasonCode = "INCREMENT_TOO_SMALL"
	ReasonSellerCannotBid   ReasonCode = "SELLER_CANNOT_BID"
)

const (
	genesisDomain = "auctioneer/genesis/v1:"
	HashSize      = sha256.Size
)

// Event is a single immutable entry in an auction's ledger
type Event struct {
	ID         string
	AuctionID  string
	Seq        uint64
	Type       EventType
	BidID      string
	BidderID   string
	Amount     decimal.Decimal
	Currency   string
	Channel    string
	ReasonCode ReasonCode
	ServerTime time.Time
	ClientTime *time.Time
	IPAddr     string
	UserAgent  string
	SessionID  string
	HashPrev   []byte
	HashCurr   []byte
}

func (e Event) Accepted() bool {
	return e.Type == EventTypeBidAccepted
}

// cborEvent is the stored form of an Event. Field numbers are part of the
// hash input and must never be reused
type cborEvent struct {
	ID         string `cbor:"1,keyasint,omitempty"`
	AuctionID  string `cbor:"2,keyasint,omitempty"`
	Seq        uint64 `cbor:"3,keyasint,omitempty"`
	Type       string `cbor:"4,keyasint,omitempty"`
	BidID      string `cbor:"5,keyasint,omitempty"`
	BidderID   string `cbor:"6,keyasint,omitempty"`
	Amount     string `cbor:"7,keyasint,omitempty"`
	Currency   string `cbor:"8,keyasint,omitempty"`
	Channel    string `cbor:"9,keyasint,omitempty"`
	ReasonCode string `cbor:"10,keyasint,omitempty"`
	ServerTime int64  `cbor:"11,keyasint,omitempty"`
	ClientTime int64  `cbor:"12,keyasint,omitempty"`
	IPAddr     string `cbor:"13,keyasint,omitempty"`
	UserAgent  string `cbor:"14,keyasint,omitempty"`
	SessionID  string `cbor:"15,keyasint,omitempty"`
	HashPrev   []byte `cbor:"16,keyasint,omitempty"`
	HashCurr   []byte `cbor:"17,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ledger: failed to create CBOR encoder: %s", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("ledger: failed to create CBOR decoder: %s", err))
	}
}

func toCbor(e Event) cborEvent {
	ret := cborEvent{
		ID:         e.ID,
		AuctionID:  e.AuctionID,
		Seq:        e.Seq,
		Type:       string(e.Type),
		BidID:      e.BidID,
		BidderID:   e.BidderID,
		Currency:   e.Currency,
		Channel:    e.Channel,
		ReasonCode: string(e.ReasonCode),
		IPAddr:     e.IPAddr,
		UserAgent:  e.UserAgent,
		SessionID:  e.SessionID,
		HashPrev:   e.HashPrev,
		HashCurr:   e.HashCurr,
	}
	if !e.Amount.IsZero() {
		ret.Amount = e.Amount.String()
	}
	if !e.ServerTime.IsZero() {
		ret.ServerTime = e.ServerTime.UnixNano()
	}
	if e.ClientTime != nil && !e.ClientTime.IsZero() {
		ret.ClientTime = e.ClientTime.UnixNano()
	}
	return ret
}

func fromCbor(c cborEvent) (Event, error) {
	ret := Event{
		ID:         c.ID,
		AuctionID:  c.AuctionID,
		Seq:        c.Seq,
		Type:       EventType(c.Type),
		BidID:      c.BidID,
		BidderID:   c.BidderID,
		Currency:   c.Currency,
		Channel:    c.Channel,
		ReasonCode: ReasonCode(c.ReasonCode),
		IPAddr:     c.IPAddr,
		UserAgent:  c.UserAgent,
		SessionID:  c.SessionID,
		HashPrev:   c.HashPrev,
		HashCurr:   c.HashCurr,
	}
	if c.Amount != "" {
		amount, err := decimal.NewFromString(c.Amount)
		if err != nil {
			return Event{}, fmt.Errorf("invalid amount %q: %w", c.Amount, err)
		}
		ret.Amount = amount
	}
	if c.ServerTime != 0 {
		ret.ServerTime = time.Unix(0, c.ServerTime).UTC()
	}
	if c.ClientTime != 0 {
		tmp := time.Unix(0, c.ClientTime).UTC()
		ret.ClientTime = &tmp
	}
	return ret, nil
}

// CanonicalBytes returns the deterministic encoding of the event with
// HashCurr left out. This is the input to the event hash
func (e Event) CanonicalBytes() ([]byte, error) {
	tmp := toCbor(e)
	tmp.HashCurr = nil
	return encMode.Marshal(tmp)
}

// ComputeHash returns SHA-256(hash_prev || canonical encoding)
func (e Event) ComputeHash() ([]byte, error) {
	body, err := e.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(e.HashPrev)
	h.Write(body)
	return h.Sum(nil), nil
}

// MarshalRecord encodes the full event, including HashCurr, for storage
func (e Event) MarshalRecord() ([]byte, error) {
	return encMode.Marshal(toCbor(e))
}

// UnmarshalRecord decodes a stored event
func UnmarshalRecord(data []byte) (Event, error) {
	if len(data) == 0 {
		return Event{}, errors.New("empty ledger record")
	}
	var tmp cborEvent
	if err := decMode.Unmarshal(data, &tmp); err != nil {
		return Event{}, err
	}
	return fromCbor(tmp)
}

// Genesis returns the public hash_prev value of an auction's first event
func Genesis(auctionID string) []byte {
	sum := sha256.Sum256([]byte(genesisDomain + auctionID))
	return sum[:]
}

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

package archive

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
)

const SegmentVersion = 1

var ErrUnsupportedSegment = errors.New("unsupported archive segment version")

// Segment is the archived form of an ended auction: its final state, every
// ledger event and the final chain hash
type Segment struct {
	Auction    state.Snapshot
	Events     []ledger.Event
	FinalSeq   uint64
	FinalHash  []byte
	ArchivedAt time.Time
}

type cborAuction struct {
	ID              string `cbor:"1,keyasint"`
	Status          string `cbor:"2,keyasint"`
	Currency        string `cbor:"3,keyasint,omitempty"`
	SellerID        string `cbor:"4,keyasint,omitempty"`
	LeadingBidderID string `cbor:"5,keyasint,omitempty"`
	StartingPrice   string `cbor:"6,keyasint"`
	CurrentPrice    string `cbor:"7,keyasint"`
	MinIncrement    string `cbor:"8,keyasint,omitempty"`
	LastSeq         uint64 `cbor:"9,keyasint"`
	LastHash        []byte `cbor:"10,keyasint,omitempty"`
	BidCount        uint64 `cbor:"11,keyasint"`
	OpenedAt        int64  `cbor:"12,keyasint,omitempty"`
	ClosedAt        int64  `cbor:"13,keyasint,omitempty"`
	EndsAt          int64  `cbor:"14,keyasint,omitempty"`
	CreatedAt       int64  `cbor:"15,keyasint,omitempty"`
	UpdatedAt       int64  `cbor:"16,keyasint,omitempty"`
}

type cborSegment struct {
	Version    uint              `cbor:"1,keyasint"`
	Auction    cborAuction       `cbor:"2,keyasint"`
	Records    []cbor.RawMessage `cbor:"3,keyasint"`
	FinalSeq   uint64            `cbor:"4,keyasint"`
	FinalHash  []byte            `cbor:"5,keyasint,omitempty"`
	ArchivedAt int64             `cbor:"6,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("archive: failed to create CBOR encoder: %s", err))
	}
}

func unixNano(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	tmp := time.Unix(0, v).UTC()
	return &tmp
}

func decimalString(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// MarshalSegment encodes a segment as deterministic CBOR. Events are
// embedded in their ledger record encoding so the chain can be checked
// from the archive alone
func MarshalSegment(seg Segment) ([]byte, error) {
	snap := seg.Auction
	tmp := cborSegment{
		Version: SegmentVersion,
		Auction: cborAuction{
			ID:              snap.AuctionID,
			Status:          string(snap.Status),
			Currency:        snap.Currency,
			SellerID:        snap.SellerID,
			LeadingBidderID: snap.LeadingBidderID,
			StartingPrice:   snap.StartingPrice.String(),
			CurrentPrice:    snap.CurrentPrice.String(),
			MinIncrement:    decimalString(snap.MinIncrement),
			LastSeq:         snap.LastSeq,
			LastHash:        snap.LastHash,
			BidCount:        snap.BidCount,
			OpenedAt:        unixNano(snap.OpenedAt),
			ClosedAt:        unixNano(snap.ClosedAt),
			EndsAt:          unixNano(snap.EndsAt),
			CreatedAt:       unixNano(&snap.CreatedAt),
			UpdatedAt:       unixNano(&snap.UpdatedAt),
		},
		Records:    make([]cbor.RawMessage, 0, len(seg.Events)),
		FinalSeq:   seg.FinalSeq,
		FinalHash:  seg.FinalHash,
		ArchivedAt: unixNano(&seg.ArchivedAt),
	}
	for _, evt := range seg.Events {
		rec, err := evt.MarshalRecord()
		if err != nil {
			return nil, fmt.Errorf("encode event %d: %w", evt.Seq, err)
		}
		tmp.Records = append(tmp.Records, rec)
	}
	return encMode.Marshal(tmp)
}

func UnmarshalSegment(data []byte) (Segment, error) {
	var tmp cborSegment
	if err := cbor.Unmarshal(data, &tmp); err != nil {
		return Segment{}, fmt.Errorf("decode segment: %w", err)
	}
	if tmp.Version != SegmentVersion {
		return Segment{}, fmt.Errorf(
			"%w: %d",
			ErrUnsupportedSegment,
			tmp.Version,
		)
	}
	status, err := state.ParseStatus(tmp.Auction.Status)
	if err != nil {
		return Segment{}, err
	}
	seg := Segment{
		Auction: state.Snapshot{
			AuctionID:       tmp.Auction.ID,
			Status:          status,
			Currency:        tmp.Auction.Currency,
			SellerID:        tmp.Auction.SellerID,
			LeadingBidderID: tmp.Auction.LeadingBidderID,
			LastSeq:         tmp.Auction.LastSeq,
			LastHash:        tmp.Auction.LastHash,
			BidCount:        tmp.Auction.BidCount,
			OpenedAt:        fromUnixNano(tmp.Auction.OpenedAt),
			ClosedAt:        fromUnixNano(tmp.Auction.ClosedAt),
			EndsAt:          fromUnixNano(tmp.Auction.EndsAt),
		},
		Events:    make([]ledger.Event, 0, len(tmp.Records)),
		FinalSeq:  tmp.FinalSeq,
		FinalHash: tmp.FinalHash,
	}
	if t := fromUnixNano(tmp.Auction.CreatedAt); t != nil {
		seg.Auction.CreatedAt = *t
	}
	if t := fromUnixNano(tmp.Auction.UpdatedAt); t != nil {
		seg.Auction.UpdatedAt = *t
	}
	if t := fromUnixNano(tmp.ArchivedAt); t != nil {
		seg.ArchivedAt = *t
	}
	if seg.Auction.StartingPrice, err = parseDecimal(tmp.Auction.StartingPrice); err != nil {
		return Segment{}, fmt.Errorf("invalid starting price: %w", err)
	}
	if seg.Auction.CurrentPrice, err = parseDecimal(tmp.Auction.CurrentPrice); err != nil {
		return Segment{}, fmt.Errorf("invalid current price: %w", err)
	}
	if seg.Auction.MinIncrement, err = parseDecimal(tmp.Auction.MinIncrement); err != nil {
		return Segment{}, fmt.Errorf("invalid min increment: %w", err)
	}
	for i, rec := range tmp.Records {
		evt, err := ledger.UnmarshalRecord(rec)
		if err != nil {
			return Segment{}, fmt.Errorf("decode record %d: %w", i+1, err)
		}
		seg.Events = append(seg.Events, evt)
	}
	return seg, nil
}

// Verify checks the hash chain of the archived events from the auction's
// genesis value through FinalHash
func (s Segment) Verify() error {
	auctionID := s.Auction.AuctionID
	prev := ledger.Genesis(auctionID)
	for i, evt := range s.Events {
		seq := uint64(i) + 1 // #nosec G115
		if evt.Seq != seq {
			return ledger.NewChainIntegrityError(auctionID, seq, "record missing")
		}
		if evt.AuctionID != auctionID {
			return ledger.NewChainIntegrityError(auctionID, seq, "auction id mismatch")
		}
		if !bytes.Equal(evt.HashPrev, prev) {
			return ledger.NewChainIntegrityError(auctionID, seq, "hash_prev mismatch")
		}
		hash, err := evt.ComputeHash()
		if err != nil {
			return err
		}
		if !bytes.Equal(hash, evt.HashCurr) {
			return ledger.NewChainIntegrityError(auctionID, seq, "hash_curr mismatch")
		}
		prev = evt.HashCurr
	}
	count := uint64(len(s.Events))
	if s.FinalSeq != count {
		return ledger.NewChainIntegrityError(auctionID, count+1, "final seq mismatch")
	}
	if count > 0 && !bytes.Equal(s.FinalHash, prev) {
		return ledger.NewChainIntegrityError(auctionID, count, "final hash mismatch")
	}
	return nil
}

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

package ledger_test

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() ledger.Event {
	clientTs := time.Date(2025, 3, 1, 12, 0, 0, 500, time.UTC)
	return ledger.Event{
		ID:         "7e0f3c1a-2b7a-4bb4-9a39-1d8fd7a0c001",
		AuctionID:  "A1",
		Seq:        1,
		Type:       ledger.EventTypeBidAccepted,
		BidID:      "b-1",
		BidderID:   "u1",
		Amount:     decimal.RequireFromString("110.50"),
		Currency:   "USD",
		Channel:    "web",
		ServerTime: time.Date(2025, 3, 1, 12, 0, 1, 123456789, time.UTC),
		ClientTime: &clientTs,
		SessionID:  "s-1",
		HashPrev:   ledger.Genesis("A1"),
	}
}

func TestGenesis(t *testing.T) {
	expected := sha256.Sum256([]byte("auctioneer/genesis/v1:A1"))
	assert.Equal(t, expected[:], ledger.Genesis("A1"))
	assert.NotEqual(t, ledger.Genesis("A1"), ledger.Genesis("A2"))
}

func TestComputeHashDeterministic(t *testing.T) {
	evt := testEvent()
	h1, err := evt.ComputeHash()
	require.NoError(t, err)
	h2, err := evt.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, ledger.HashSize)

	// HashCurr is not part of its own input
	evt.HashCurr = []byte("anything")
	h3, err := evt.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h3)

	// Equal amounts with different scale hash the same way
	evt.Amount = decimal.RequireFromString("110.5")
	h4, err := evt.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h4)
}

func TestComputeHashDetectsChanges(t *testing.T) {
	base := testEvent()
	baseHash, err := base.ComputeHash()
	require.NoError(t, err)
	testDefs := []struct {
		name   string
		modify func(*ledger.Event)
	}{
		{"amount", func(e *ledger.Event) { e.Amount = decimal.RequireFromString("110.51") }},
		{"bidder", func(e *ledger.Event) { e.BidderID = "u2" }},
		{"seq", func(e *ledger.Event) { e.Seq = 2 }},
		{"hash prev", func(e *ledger.Event) { e.HashPrev = ledger.Genesis("A2") }},
		{"server time", func(e *ledger.Event) { e.ServerTime = e.ServerTime.Add(time.Nanosecond) }},
		{"reason", func(e *ledger.Event) { e.ReasonCode = ledger.ReasonPriceTooLow }},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			evt := testEvent()
			testDef.modify(&evt)
			h, err := evt.ComputeHash()
			require.NoError(t, err)
			assert.NotEqual(t, baseHash, h)
		})
	}
}

func TestRecordRoundTripPreservesHash(t *testing.T) {
	evt := testEvent()
	var err error
	evt.HashCurr, err = evt.ComputeHash()
	require.NoError(t, err)
	data, err := evt.MarshalRecord()
	require.NoError(t, err)
	decoded, err := ledger.UnmarshalRecord(data)
	require.NoError(t, err)
	assert.Equal(t, evt.Seq, decoded.Seq)
	assert.True(t, evt.Amount.Equal(decoded.Amount))
	assert.True(t, evt.ServerTime.Equal(decoded.ServerTime))
	require.NotNil(t, decoded.ClientTime)
	assert.True(t, evt.ClientTime.Equal(*decoded.ClientTime))
	recomputed, err := decoded.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, evt.HashCurr, recomputed)
}

func TestUnmarshalRecordInvalid(t *testing.T) {
	_, err := ledger.UnmarshalRecord(nil)
	require.Error(t, err)
	_, err = ledger.UnmarshalRecord([]byte{0xff, 0x00})
	require.Error(t, err)
}

func TestValidateAuctionID(t *testing.T) {
	require.NoError(t, ledger.ValidateAuctionID("auction-2025.03:lot_7"))
	require.ErrorIs(t, ledger.ValidateAuctionID(""), ledger.ErrInvalidAuctionID)
	require.ErrorIs(t, ledger.ValidateAuctionID("a\x00b"), ledger.ErrInvalidAuctionID)
	require.ErrorIs(t, ledger.ValidateAuctionID("a/b"), ledger.ErrInvalidAuctionID)
}

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

package sequencer_test

import (
	"context"
	"testing"

	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/sequencer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueries(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.createActive(t, "A1", "100")
	ctx := context.Background()
	submit := func(bidder string, amount string) *ledger.Event {
		evt, err := env.seq.SubmitBid(ctx, bid("A1", bidder, amount))
		require.NoError(t, err)
		return evt
	}
	first := submit("alice", "110")
	submit("bob", "120")
	submit("alice", "115")
	last := submit("alice", "130")

	board, err := env.seq.Leaderboard("A1", 0)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "alice", board[0].BidderID)
	assert.Equal(t, "130", board[0].MaxAmount.String())
	assert.Equal(t, int64(2), board[0].BidCount)
	assert.Equal(t, "bob", board[1].BidderID)

	latest, err := env.seq.LatestBids("A1", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, uint64(4), latest[0].Seq)
	assert.Equal(t, uint64(2), latest[1].Seq)

	status, err := env.seq.BidStatus(last.BidID)
	require.NoError(t, err)
	assert.True(t, status.Leading)
	assert.Equal(t, last.HashCurr, status.Event.HashCurr)
	status, err = env.seq.BidStatus(first.BidID)
	require.NoError(t, err)
	assert.False(t, status.Leading)
	_, err = env.seq.BidStatus("missing")
	require.ErrorIs(t, err, sequencer.ErrBidNotFound)

	history, err := env.seq.BidderHistory("alice", 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	_, err = env.seq.BidderHistory("", 10, 0)
	require.ErrorIs(t, err, sequencer.ErrValidation)

	records, err := env.seq.AuditLog(ctx, "A1", 2, 3)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(2), records[0].ServerSeq)
	assert.Equal(t, ledger.ReasonPriceTooLow, records[1].ReasonCode)

	_, err = env.seq.Leaderboard("nope", 0)
	require.ErrorIs(t, err, sequencer.ErrAuctionNotFound)
}

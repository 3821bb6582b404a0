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

package auctioneer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/auctioneer"
	"github.com/blinklabs-io/auctioneer/api"
	"github.com/blinklabs-io/auctioneer/archive"
	"github.com/blinklabs-io/auctioneer/relay"
	"github.com/blinklabs-io/auctioneer/sequencer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}

// startNode runs a node until the test ends
func startNode(t *testing.T, opts ...auctioneer.ConfigOptionFunc) *auctioneer.Node {
	t.Helper()
	opts = append(
		[]auctioneer.ConfigOptionFunc{
			auctioneer.WithAPIListenAddress("127.0.0.1:0"),
			auctioneer.WithPrometheusRegistry(prometheus.NewRegistry()),
		},
		opts...,
	)
	n, err := auctioneer.New(auctioneer.NewConfig(opts...))
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Run(context.Background())
	}()
	select {
	case <-n.Ready():
	case err := <-errCh:
		t.Fatalf("node failed to start: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for node")
	}
	t.Cleanup(func() {
		_ = n.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("timed out waiting for node to stop")
		}
	})
	return n
}

func runAuction(t *testing.T, seq *sequencer.Sequencer, amounts ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := seq.CreateAuction(ctx, sequencer.AuctionSpec{
		ID:            "A1",
		StartingPrice: decimal.RequireFromString("1000"),
	})
	require.NoError(t, err)
	_, err = seq.OpenAuction(ctx, "A1")
	require.NoError(t, err)
	for _, amount := range amounts {
		_, err := seq.SubmitBid(ctx, sequencer.BidRequest{
			AuctionID: "A1",
			BidderID:  "7",
			Amount:    decimal.RequireFromString(amount),
		})
		require.NoError(t, err)
	}
}

func getAuction(t *testing.T, n *auctioneer.Node) api.AuctionResponse {
	t.Helper()
	resp, err := http.Get("http://" + n.APIAddr().String() + "/api/v1/auctions/A1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ret api.AuctionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ret))
	return ret
}

func TestNodeRelaysAndArchives(t *testing.T) {
	pub := &recordingPublisher{}
	backend, err := archive.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	n := startNode(
		t,
		auctioneer.WithRelayPublisher("test", pub, relay.NATSSubject),
		auctioneer.WithArchiveBackend(backend),
	)
	seq := n.Sequencer()
	runAuction(t, seq, "1050", "1040")
	_, err = seq.CloseAuction(context.Background(), "A1")
	require.NoError(t, err)

	snap := getAuction(t, n)
	assert.Equal(t, "1050", snap.CurrentPrice.String())
	assert.Equal(t, uint64(2), snap.LastSeq)

	// two bids plus the open and close status changes
	require.Eventually(t, func() bool {
		return pub.count() == 4
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := backend.Get(
			context.Background(),
			archive.SegmentKey("A1", 2, false),
		)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNodeRecoversAfterRestart(t *testing.T) {
	dataDir := t.TempDir()
	first, err := auctioneer.New(auctioneer.NewConfig(
		auctioneer.WithDatabasePath(dataDir),
		auctioneer.WithAPIListenAddress("127.0.0.1:0"),
	))
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() {
		errCh <- first.Run(context.Background())
	}()
	<-first.Ready()
	runAuction(t, first.Sequencer(), "1050", "1040", "1200")
	require.NoError(t, first.Stop())
	require.NoError(t, <-errCh)

	second := startNode(t, auctioneer.WithDatabasePath(dataDir))
	snap := getAuction(t, second)
	assert.Equal(t, "1200", snap.CurrentPrice.String())
	assert.Equal(t, uint64(3), snap.LastSeq)
	assert.Equal(t, uint64(2), snap.BidCount)

	evt, err := second.Sequencer().SubmitBid(
		context.Background(),
		sequencer.BidRequest{
			AuctionID: "A1",
			BidderID:  "9",
			Amount:    decimal.RequireFromString("1300"),
		},
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), evt.Seq)
}

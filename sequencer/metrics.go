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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type sequencerMetrics struct {
	bidsTotal           *prometheus.CounterVec
	submitSeconds       prometheus.Histogram
	ledgerWriteFailures prometheus.Counter
	indexWriteFailures  prometheus.Counter
	statusTransitions   *prometheus.CounterVec
	rateLimited         prometheus.Counter
	autoBidsTotal       prometheus.Counter
}

func (s *Sequencer) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	s.metrics = &sequencerMetrics{
		bidsTotal: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auctioneer_bids_total",
				Help: "sequenced bids by outcome and reason code",
			},
			[]string{"outcome", "reason"},
		),
		submitSeconds: promautoFactory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auctioneer_bid_submit_seconds",
				Help:    "time to sequence and durably record a bid",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		ledgerWriteFailures: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "auctioneer_ledger_write_failures_total",
				Help: "failed durable writes",
			},
		),
		indexWriteFailures: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "auctioneer_index_write_failures_total",
				Help: "ledger records whose index or checkpoint write failed",
			},
		),
		statusTransitions: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auctioneer_auction_status_transitions_total",
				Help: "auction status transitions by target status",
			},
			[]string{"status"},
		),
		rateLimited: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "auctioneer_bids_rate_limited_total",
				Help: "bids refused by the per-bidder rate limit",
			},
		),
		autoBidsTotal: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "auctioneer_auto_bids_total",
				Help: "bids placed on behalf of bidders by their auto bid",
			},
		),
	}
}

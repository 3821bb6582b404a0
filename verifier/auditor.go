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

package verifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAuditInterval    = 10 * time.Minute
	DefaultAuditConcurrency = 4
)

type AuditorConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Ledger       *ledger.Ledger
	Interval     time.Duration
	Concurrency  int
}

type auditorMetrics struct {
	verifications *prometheus.CounterVec
	failures      prometheus.Counter
	lastRun       prometheus.Gauge
}

// Auditor periodically verifies every auction ledger. It only reports;
// it never repairs
type Auditor struct {
	config  AuditorConfig
	logger  *slog.Logger
	metrics *auditorMetrics
	mu      sync.Mutex
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

func NewAuditor(cfg AuditorConfig) (*Auditor, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("auditor requires a ledger")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultAuditInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultAuditConcurrency
	}
	a := &Auditor{
		config: cfg,
		logger: cfg.Logger.With("component", "auditor"),
	}
	if cfg.PromRegistry != nil {
		promautoFactory := promauto.With(cfg.PromRegistry)
		a.metrics = &auditorMetrics{
			verifications: promautoFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "auctioneer_chain_verifications_total",
					Help: "auction ledger verifications by result",
				},
				[]string{"result"},
			),
			failures: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "auctioneer_chain_integrity_failures_total",
				Help: "auction ledgers found with a broken hash chain",
			}),
			lastRun: promautoFactory.NewGauge(prometheus.GaugeOpts{
				Name: "auctioneer_chain_audit_last_run_timestamp_seconds",
				Help: "completion time of the last full audit",
			}),
		}
	}
	return a, nil
}

// Start runs audits at the configured interval until Stop is called or ctx
// is done
func (a *Auditor) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errors.New("auditor already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.doneCh = make(chan struct{})
	go a.loop(ctx, a.doneCh)
	return nil
}

func (a *Auditor) loop(ctx context.Context, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil &&
				!errors.Is(err, context.Canceled) {
				a.logger.Error("audit run failed", "error", err)
			}
		}
	}
}

// Stop ends the audit loop and waits for a running audit to finish
func (a *Auditor) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	doneCh := a.doneCh
	a.cancel = nil
	a.doneCh = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-doneCh
}

// RunOnce verifies every auction ledger and returns the results in
// auction id order
func (a *Auditor) RunOnce(ctx context.Context) ([]Result, error) {
	auctionIDs, err := a.config.Ledger.AuctionIDs(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(auctionIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Concurrency)
	for i, auctionID := range auctionIDs {
		g.Go(func() error {
			res, err := Verify(gctx, a.config.Ledger, auctionID)
			if err != nil {
				return err
			}
			results[i] = res
			a.report(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.lastRun.SetToCurrentTime()
	}
	a.logger.Debug("audit complete", "auctions", len(results))
	return results, nil
}

func (a *Auditor) report(res Result) {
	if res.Valid {
		if a.metrics != nil {
			a.metrics.verifications.WithLabelValues("valid").Inc()
		}
		return
	}
	if a.metrics != nil {
		a.metrics.verifications.WithLabelValues("invalid").Inc()
		a.metrics.failures.Inc()
	}
	a.logger.Error(
		"auction ledger failed verification",
		"auction_id", res.AuctionID,
		"invalid_at_seq", res.InvalidAtSeq,
		"checked", res.Checked,
		"error", res.Err,
	)
}

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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/auctioneer/database"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/blinklabs-io/auctioneer/sequencer"

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Ledger       *ledger.Ledger
	State        *state.Store
	Publisher    Publisher
	// BidRateLimit is the sustained bids per second allowed per bidder.
	// Zero disables rate limiting
	BidRateLimit float64
	BidRateBurst int
	// NowFunc overrides the clock
	NowFunc func() time.Time
}

// Sequencer is the single writer for every auction. Bids and status
// changes for one auction are evaluated one at a time in arrival order;
// different auctions proceed independently
type Sequencer struct {
	config    Config
	logger    *slog.Logger
	db        *database.Database
	ledger    *ledger.Ledger
	state     *state.Store
	publisher Publisher
	limiter   *bidderRateLimiter
	metrics   *sequencerMetrics
	tracer    trace.Tracer
	nowFunc   func() time.Time
	locks     sync.Map // auction ID -> *sync.Mutex
	// indexBehind holds auctions whose ledger has records the metadata
	// store is missing
	indexBehind sync.Map // auction ID -> struct{}
	timersMutex sync.Mutex
	timers      map[string]*time.Timer
	stopped     bool
}

func New(cfg Config) (*Sequencer, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("sequencer requires a ledger")
	}
	if cfg.State == nil {
		cfg.State = state.NewStore()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.NowFunc == nil {
		cfg.NowFunc = func() time.Time { return time.Now().UTC() }
	}
	s := &Sequencer{
		config:    cfg,
		logger:    cfg.Logger.With("component", "sequencer"),
		db:        cfg.Ledger.DB(),
		ledger:    cfg.Ledger,
		state:     cfg.State,
		publisher: cfg.Publisher,
		tracer:    otel.Tracer(tracerName),
		nowFunc:   cfg.NowFunc,
		timers:    make(map[string]*time.Timer),
	}
	if cfg.BidRateLimit > 0 {
		s.limiter = newBidderRateLimiter(
			cfg.BidRateLimit,
			cfg.BidRateBurst,
			cfg.NowFunc,
		)
	}
	if cfg.PromRegistry != nil {
		s.initMetrics(cfg.PromRegistry)
	}
	return s, nil
}

// State returns the auction state store
func (s *Sequencer) State() *state.Store {
	return s.state
}

func (s *Sequencer) Ledger() *ledger.Ledger {
	return s.ledger
}

func (s *Sequencer) lockFor(auctionID string) *sync.Mutex {
	tmp, _ := s.locks.LoadOrStore(auctionID, &sync.Mutex{})
	return tmp.(*sync.Mutex)
}

func validateBid(req BidRequest) error {
	if err := ledger.ValidateAuctionID(req.AuctionID); err != nil {
		return NewValidationError("auction_id", err.Error())
	}
	if strings.TrimSpace(req.BidderID) == "" {
		return NewValidationError("bidder_id", "required")
	}
	if len(req.BidderID) > maxIDLength {
		return NewValidationError("bidder_id", "too long")
	}
	if !req.Amount.IsPositive() {
		return NewValidationError("bid_amount", "must be greater than zero")
	}
	if !req.Amount.Equal(req.Amount.Truncate(maxAmountPlaces)) {
		return NewValidationError(
			"bid_amount",
			fmt.Sprintf("at most %d decimal places", maxAmountPlaces),
		)
	}
	for field, val := range map[string]string{
		"channel":    req.Channel,
		"session_id": req.SessionID,
		"ip_addr":    req.IPAddr,
		"user_agent": req.UserAgent,
	} {
		if len(val) > maxFieldLength {
			return NewValidationError(field, "too long")
		}
	}
	return nil
}

// decide evaluates a bid against the current auction state
func decide(snap state.Snapshot, req BidRequest) ledger.ReasonCode {
	switch {
	case snap.Status != state.StatusActive:
		return ledger.ReasonAuctionNotActive
	case snap.SellerID != "" && req.BidderID == snap.SellerID:
		return ledger.ReasonSellerCannotBid
	case req.Amount.LessThanOrEqual(snap.CurrentPrice):
		return ledger.ReasonPriceTooLow
	case req.Amount.LessThan(snap.MinNextBid()):
		return ledger.ReasonIncrementTooSmall
	}
	return ledger.ReasonNone
}

// SubmitBid sequences a bid. Accepted and rejected bids are both recorded
// and returned as events; only requests that never reach the ledger
// produce an error
func (s *Sequencer) SubmitBid(
	ctx context.Context,
	req BidRequest,
) (*ledger.Event, error) {
	ctx, span := s.tracer.Start(
		ctx,
		"SubmitBid",
		trace.WithAttributes(
			attribute.String("auction.id", req.AuctionID),
			attribute.String("bidder.id", req.BidderID),
		),
	)
	defer span.End()
	start := time.Now()
	evt, err := s.submitBid(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("ledger.seq", int64(evt.Seq)), //nolint:gosec
		attribute.String("bid.event_type", string(evt.Type)),
	)
	if s.metrics != nil {
		s.metrics.submitSeconds.Observe(time.Since(start).Seconds())
		outcome := "accepted"
		if !evt.Accepted() {
			outcome = "rejected"
		}
		s.metrics.bidsTotal.WithLabelValues(outcome, string(evt.ReasonCode)).
			Inc()
	}
	return evt, nil
}

func (s *Sequencer) submitBid(
	ctx context.Context,
	req BidRequest,
) (*ledger.Event, error) {
	if err := validateBid(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := s.state.Get(req.AuctionID); !ok {
		return nil, ErrAuctionNotFound
	}
	if s.limiter != nil && !s.limiter.Allow(req.BidderID) {
		if s.metrics != nil {
			s.metrics.rateLimited.Inc()
		}
		return nil, ErrRateLimited
	}
	lock := s.lockFor(req.AuctionID)
	lock.Lock()
	defer lock.Unlock()
	snap, ok := s.state.Get(req.AuctionID)
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if err := s.ensureIndexedLocked(ctx, req.AuctionID); err != nil {
		return nil, err
	}
	now := s.nowFunc()
	if snap.EndsAt != nil &&
		!now.Before(*snap.EndsAt) &&
		!snap.Status.Terminal() {
		var err error
		snap, err = s.transitionLocked(
			ctx,
			snap,
			state.StatusEnded,
			"scheduled close",
		)
		if err != nil {
			return nil, err
		}
	}
	evt := ledger.Event{
		ID:         uuid.NewString(),
		AuctionID:  req.AuctionID,
		BidderID:   req.BidderID,
		Amount:     req.Amount,
		Currency:   snap.Currency,
		Channel:    req.Channel,
		ServerTime: now,
		ClientTime: req.ClientTime,
		IPAddr:     req.IPAddr,
		UserAgent:  req.UserAgent,
		SessionID:  req.SessionID,
	}
	if reason := decide(snap, req); reason != ledger.ReasonNone {
		evt.Type = ledger.EventTypeBidRejected
		evt.ReasonCode = reason
	} else {
		evt.Type = ledger.EventTypeBidAccepted
		evt.BidID = uuid.NewString()
	}
	evt, err := s.appendLocked(ctx, snap, evt)
	if err != nil {
		return nil, err
	}
	if evt.Accepted() {
		// The bid stands whatever the auto bids do in response
		if err := s.runAutoBidsLocked(ctx, req.AuctionID); err != nil {
			s.logger.Warn(
				"auto bids not processed",
				"auction_id", req.AuctionID,
				"error", err,
			)
		}
	}
	return &evt, nil
}

// appendLocked durably records evt together with the auction checkpoint,
// then applies and publishes it. The caller holds the auction lock
func (s *Sequencer) appendLocked(
	ctx context.Context,
	snap state.Snapshot,
	evt ledger.Event,
) (ledger.Event, error) {
	var appended ledger.Event
	txn := s.db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		var err error
		appended, err = s.ledger.Append(txn, evt)
		if err != nil {
			return err
		}
		next := state.Fold(snap, appended)
		return s.db.SetAuction(next.ToModel(), txn)
	})
	if err != nil && !errors.Is(err, database.ErrPartialCommit) {
		s.ledger.Invalidate(evt.AuctionID)
		if s.metrics != nil {
			s.metrics.ledgerWriteFailures.Inc()
		}
		s.logger.Error(
			"failed to record bid event",
			"auction_id", evt.AuctionID,
			"error", err,
		)
		return ledger.Event{}, LedgerWriteError{
			AuctionID: evt.AuctionID,
			Err:       err,
		}
	}
	// From here the ledger record is durable and the event stands
	s.ledger.Commit(appended)
	next, _ := s.state.Apply(appended)
	s.publisher.PublishEvent(appended, next)
	if err != nil {
		if s.metrics != nil {
			s.metrics.indexWriteFailures.Inc()
		}
		s.logger.Error(
			"bid event recorded but index write failed",
			"auction_id", appended.AuctionID,
			"server_seq", appended.Seq,
			"error", err,
		)
		s.indexBehind.Store(appended.AuctionID, struct{}{})
		if rerr := s.repairIndexLocked(ctx, appended.AuctionID); rerr != nil {
			s.logger.Warn(
				"index repair deferred, auction fenced",
				"auction_id", appended.AuctionID,
				"error", rerr,
			)
		}
	}
	return appended, nil
}

// ensureIndexedLocked repairs the metadata of an auction that fell behind
// its ledger. Until the repair succeeds the auction accepts no changes, so
// nothing is decided against state the metadata store cannot back
func (s *Sequencer) ensureIndexedLocked(
	ctx context.Context,
	auctionID string,
) error {
	if _, ok := s.indexBehind.Load(auctionID); !ok {
		return nil
	}
	if err := s.repairIndexLocked(ctx, auctionID); err != nil {
		return LedgerWriteError{
			AuctionID: auctionID,
			Err:       errors.Join(ErrIndexBehind, err),
		}
	}
	return nil
}

// repairIndexLocked writes the index rows and checkpoint for ledger events
// that the metadata store is missing. The caller holds the auction lock
func (s *Sequencer) repairIndexLocked(
	ctx context.Context,
	auctionID string,
) error {
	snap, ok := s.state.Get(auctionID)
	if !ok {
		return ErrAuctionNotFound
	}
	checkpoint, err := s.db.GetAuction(auctionID, nil)
	if err != nil {
		return err
	}
	var fromSeq uint64 = 1
	if checkpoint != nil {
		fromSeq = checkpoint.LastSeq + 1
	}
	var events []ledger.Event
	if fromSeq <= snap.LastSeq {
		events, err = s.ledger.ReadRange(ctx, auctionID, fromSeq, snap.LastSeq)
		if err != nil {
			return err
		}
	}
	txn := s.db.MetadataTransaction(true)
	err = txn.Do(func(txn *database.Txn) error {
		for _, evt := range events {
			if err := s.db.AddBidEvent(evt.ToModel(), txn); err != nil {
				return err
			}
		}
		return s.db.SetAuction(snap.ToModel(), txn)
	})
	if err != nil {
		return err
	}
	s.indexBehind.Delete(auctionID)
	s.logger.Info(
		"auction index caught up with ledger",
		"auction_id", auctionID,
		"server_seq", snap.LastSeq,
		"repaired", len(events),
	)
	return nil
}

// minBid returns the lowest acceptable amount for the next bid
func minBid(snap state.Snapshot) decimal.Decimal {
	if snap.MinIncrement.IsPositive() {
		return snap.MinNextBid()
	}
	return snap.CurrentPrice
}

// Quote returns the auction's current state and the amount the next bid
// must exceed (or, with a minimum increment, reach)
func (s *Sequencer) Quote(auctionID string) (state.Snapshot, decimal.Decimal, error) {
	snap, ok := s.state.Get(auctionID)
	if !ok {
		return state.Snapshot{}, decimal.Zero, ErrAuctionNotFound
	}
	return snap, minBid(snap), nil
}

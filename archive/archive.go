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

// Package archive exports the ledgers of ended auctions to long term
// storage. The ledger itself is never deleted
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/auctioneer/event"
	"github.com/blinklabs-io/auctioneer/fanout"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultQueueSize     = 256
	DefaultExportTimeout = 2 * time.Minute

	encryptedSuffix = ".sops"
)

var ErrAuctionNotEnded = errors.New("auction has not ended")

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	EventBus     *event.EventBus
	Ledger       *ledger.Ledger
	State        *state.Store
	Backend      Backend
	// Encrypt wraps each segment with sops before it is stored
	Encrypt       bool
	QueueSize     int
	ExportTimeout time.Duration
}

type archiveMetrics struct {
	exported prometheus.Counter
	failed   prometheus.Counter
	bytes    prometheus.Counter
}

// Archiver writes a segment for every auction that ends while it is
// running. It is an event bus subscriber and exports on its own worker
type Archiver struct {
	config    Config
	logger    *slog.Logger
	metrics   *archiveMetrics
	queue     chan string
	doneCh    chan struct{}
	subId     event.SubscriberId
	mu        sync.RWMutex
	started   bool
	closed    bool
	closeOnce sync.Once
}

func New(cfg Config) (*Archiver, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("archiver requires a ledger")
	}
	if cfg.State == nil {
		return nil, errors.New("archiver requires a state store")
	}
	if cfg.Backend == nil {
		return nil, errors.New("archiver requires a backend")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = DefaultExportTimeout
	}
	a := &Archiver{
		config: cfg,
		logger: cfg.Logger.With("component", "archive"),
		queue:  make(chan string, cfg.QueueSize),
		doneCh: make(chan struct{}),
	}
	if cfg.PromRegistry != nil {
		promautoFactory := promauto.With(cfg.PromRegistry)
		a.metrics = &archiveMetrics{
			exported: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "auctioneer_archive_exports_total",
				Help: "ledger segments archived",
			}),
			failed: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "auctioneer_archive_export_failures_total",
				Help: "failed ledger segment exports",
			}),
			bytes: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "auctioneer_archive_bytes_total",
				Help: "bytes written to the archive backend",
			}),
		}
	}
	return a, nil
}

// Start subscribes to status changes on the event bus
func (a *Archiver) Start() error {
	if a.config.EventBus == nil {
		return errors.New("archiver requires an event bus to start")
	}
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return errors.New("archiver already started")
	}
	a.started = true
	a.mu.Unlock()
	go a.worker()
	a.subId = a.config.EventBus.RegisterSubscriber(event.TopicAll, a)
	a.logger.Info("archiver started")
	return nil
}

// Stop detaches from the bus, finishes queued exports and closes the
// backend
func (a *Archiver) Stop() error {
	a.mu.RLock()
	started := a.started
	a.mu.RUnlock()
	if started {
		a.config.EventBus.Unsubscribe(event.TopicAll, a.subId)
		a.Close()
		<-a.doneCh
	}
	return a.config.Backend.Close()
}

func (a *Archiver) Deliver(evt event.Event) error {
	msg, ok := evt.Data.(fanout.Message)
	if !ok {
		return nil
	}
	if msg.Type != fanout.MessageStatusChanged ||
		msg.Status != state.StatusEnded {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- msg.AuctionID:
	default:
		if a.metrics != nil {
			a.metrics.failed.Inc()
		}
		a.logger.Error(
			"archive queue full, auction not exported",
			"auction_id", msg.AuctionID,
		)
	}
	return nil
}

// Close stops accepting work. Queued exports still run
func (a *Archiver) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
}

func (a *Archiver) worker() {
	defer close(a.doneCh)
	for auctionID := range a.queue {
		ctx, cancel := context.WithTimeout(
			context.Background(),
			a.config.ExportTimeout,
		)
		key, err := a.Export(ctx, auctionID)
		cancel()
		if err != nil {
			a.logger.Error(
				"failed to archive auction",
				"auction_id", auctionID,
				"error", err,
			)
			continue
		}
		a.logger.Info(
			"archived auction ledger",
			"auction_id", auctionID,
			"key", key,
		)
	}
}

// SegmentKey returns the object key of an auction's archived ledger
func SegmentKey(auctionID string, finalSeq uint64, encrypted bool) string {
	key := fmt.Sprintf("auctions/%s/ledger-%020d.cbor", auctionID, finalSeq)
	if encrypted {
		key += encryptedSuffix
	}
	return key
}

// Export writes the segment of an ended auction and returns its key. The
// chain is verified first and a broken chain is not archived
func (a *Archiver) Export(ctx context.Context, auctionID string) (string, error) {
	key, size, err := a.export(ctx, auctionID)
	if a.metrics != nil {
		if err != nil {
			a.metrics.failed.Inc()
		} else {
			a.metrics.exported.Inc()
			a.metrics.bytes.Add(float64(size))
		}
	}
	return key, err
}

func (a *Archiver) export(
	ctx context.Context,
	auctionID string,
) (string, int, error) {
	snap, ok := a.config.State.Get(auctionID)
	if !ok {
		return "", 0, state.ErrAuctionNotFound
	}
	if snap.Status != state.StatusEnded {
		return "", 0, ErrAuctionNotEnded
	}
	var events []ledger.Event
	iter := a.config.Ledger.Iterator(auctionID, 1)
	for iter.NextSeq() <= snap.LastSeq {
		evt, err := iter.Next(ctx, false)
		if errors.Is(err, ledger.ErrIteratorTip) {
			// A gap below the final seq; Verify reports it
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("read ledger: %w", err)
		}
		events = append(events, evt)
	}
	seg := Segment{
		Auction:    snap,
		Events:     events,
		FinalSeq:   snap.LastSeq,
		FinalHash:  snap.LastHash,
		ArchivedAt: time.Now().UTC(),
	}
	if err := seg.Verify(); err != nil {
		return "", 0, err
	}
	data, err := MarshalSegment(seg)
	if err != nil {
		return "", 0, err
	}
	if a.config.Encrypt {
		data, err = Encrypt(data)
		if err != nil {
			return "", 0, fmt.Errorf("encrypt segment: %w", err)
		}
	}
	key := SegmentKey(auctionID, snap.LastSeq, a.config.Encrypt)
	if err := a.config.Backend.Put(ctx, key, data); err != nil {
		return "", 0, err
	}
	return key, len(data), nil
}

// Load reads and decodes an archived segment, decrypting it when the key
// names an encrypted object
func (a *Archiver) Load(ctx context.Context, key string) (Segment, error) {
	data, err := a.config.Backend.Get(ctx, key)
	if err != nil {
		return Segment{}, err
	}
	if strings.HasSuffix(key, encryptedSuffix) {
		data, err = Decrypt(data)
		if err != nil {
			return Segment{}, fmt.Errorf("decrypt segment: %w", err)
		}
	}
	return UnmarshalSegment(data)
}

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

package auctioneer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/blinklabs-io/auctioneer/api"
	"github.com/blinklabs-io/auctioneer/archive"
	"github.com/blinklabs-io/auctioneer/database"
	"github.com/blinklabs-io/auctioneer/event"
	"github.com/blinklabs-io/auctioneer/fanout"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/relay"
	"github.com/blinklabs-io/auctioneer/sequencer"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/blinklabs-io/auctioneer/verifier"
	"golang.org/x/sync/errgroup"
)

type Node struct {
	config        Config
	eventBus      *event.EventBus
	db            *database.Database
	ledger        *ledger.Ledger
	state         *state.Store
	fanout        *fanout.Service
	sequencer     *sequencer.Sequencer
	api           *api.Server
	relays        *relay.Manager
	archiver      *archive.Archiver
	auditor       *verifier.Auditor
	shutdownFuncs []func(context.Context) error
	ready         chan struct{}
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.shutdownTimeout <= 0 {
		cfg.shutdownTimeout = DefaultShutdownTimeout
	}
	var busOpts []event.BusOption
	if cfg.eventBusWorkers > 0 {
		busOpts = append(busOpts, event.WithAsyncWorkers(cfg.eventBusWorkers))
	}
	if cfg.eventBusQueueSize > 0 {
		busOpts = append(
			busOpts,
			event.WithAsyncQueueSize(cfg.eventBusQueueSize),
		)
	}
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger, busOpts...),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		n.eventBus.Stop()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

// Ready is closed once every component has started
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

// APIAddr returns the bound API address once the node is ready
func (n *Node) APIAddr() net.Addr {
	if n.api == nil {
		return nil
	}
	return n.api.Addr()
}

// Sequencer returns the node's bid sequencer once the node is ready
func (n *Node) Sequencer() *sequencer.Sequencer {
	return n.sequencer
}

// Run opens storage, recovers auction state and starts serving. It
// returns when ctx is cancelled or the node is stopped
func (n *Node) Run(ctx context.Context) error {
	logger := n.config.logger
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(ctx); err != nil {
			return err
		}
	}
	// Load database
	dbNeedsRecovery := false
	db, err := database.New(&database.Config{
		DataDir:        n.config.dataDir,
		BlobPlugin:     n.config.blobPlugin,
		MetadataPlugin: n.config.metadataPlugin,
		Logger:         logger,
		PromRegistry:   n.config.promRegistry,
	})
	if db == nil {
		if err == nil {
			err = errors.New("empty database returned")
		}
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	if err != nil {
		var dbErr database.CommitTimestampError
		if !errors.As(err, &dbErr) {
			return fmt.Errorf("failed to open database: %w", err)
		}
		logger.Warn(
			"database initialization error, needs recovery",
			"error",
			err,
		)
		dbNeedsRecovery = true
	}
	// Load ledger and state
	n.ledger, err = ledger.New(n.db, logger)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	n.state = state.NewStore()
	n.fanout, err = fanout.New(fanout.Config{
		Logger:              logger,
		PromRegistry:        n.config.promRegistry,
		EventBus:            n.eventBus,
		Ledger:              n.ledger,
		State:               n.state,
		ReplayCacheSize:     n.config.replayCacheSize,
		SubscriberQueueSize: n.config.subscriberQueueSize,
		MaxSubscribersPerIP: n.config.maxSubscribersPerIP,
	})
	if err != nil {
		return fmt.Errorf("failed to create fan-out service: %w", err)
	}
	n.sequencer, err = sequencer.New(sequencer.Config{
		Logger:       logger,
		PromRegistry: n.config.promRegistry,
		Ledger:       n.ledger,
		State:        n.state,
		Publisher:    n.fanout,
		BidRateLimit: n.config.bidRateLimit,
		BidRateBurst: n.config.bidRateBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to create sequencer: %w", err)
	}
	// Recover auction state from the ledger
	if err := n.sequencer.Load(ctx, dbNeedsRecovery); err != nil {
		return fmt.Errorf("failed to load auction state: %w", err)
	}
	if dbNeedsRecovery {
		if err := n.db.ResetCommitTimestamp(); err != nil {
			return fmt.Errorf("failed to recover database: %w", err)
		}
		logger.Info("database recovery complete")
	}
	// External relays
	if err := n.startRelays(ctx); err != nil {
		return err
	}
	// Archive
	if err := n.startArchiver(ctx); err != nil {
		return err
	}
	// Periodic chain audit
	if n.config.auditInterval > 0 {
		n.auditor, err = verifier.NewAuditor(verifier.AuditorConfig{
			Logger:       logger,
			PromRegistry: n.config.promRegistry,
			Ledger:       n.ledger,
			Interval:     n.config.auditInterval,
			Concurrency:  n.config.auditConcurrency,
		})
		if err != nil {
			return fmt.Errorf("failed to create auditor: %w", err)
		}
		if err := n.auditor.Start(ctx); err != nil {
			return err
		}
	}
	// API
	n.api, err = api.New(api.Config{
		Logger:         logger,
		PromRegistry:   n.config.promRegistry,
		ListenAddress:  n.config.apiListenAddress,
		Sequencer:      n.sequencer,
		Fanout:         n.fanout,
		AllowedOrigins: n.config.allowedOrigins,
		PingInterval:   n.config.pingInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	if err := n.api.Start(ctx); err != nil {
		return err
	}
	close(n.ready)

	// Wait for shutdown
	select {
	case <-ctx.Done():
	case <-n.done:
	}
	return nil
}

// startRelays connects the configured brokers in parallel and attaches
// them to the event bus
func (n *Node) startRelays(ctx context.Context) error {
	type namedRelay struct {
		name    string
		subject relay.SubjectFunc
		connect func() (relay.Publisher, error)
	}
	var pending []namedRelay
	if n.config.redisURL != "" {
		pending = append(pending, namedRelay{
			name:    "redis",
			subject: relay.RedisSubject,
			connect: func() (relay.Publisher, error) {
				return relay.NewRedisPublisherFromURL(ctx, n.config.redisURL)
			},
		})
	}
	if n.config.natsURL != "" {
		pending = append(pending, namedRelay{
			name:    "nats",
			subject: relay.NATSSubject,
			connect: func() (relay.Publisher, error) {
				return relay.NewNATSPublisher(n.config.natsURL)
			},
		})
	}
	if n.config.amqpURL != "" {
		pending = append(pending, namedRelay{
			name:    "amqp",
			subject: relay.AMQPRoutingKey,
			connect: func() (relay.Publisher, error) {
				return relay.NewAMQPPublisher(
					n.config.amqpURL,
					n.config.amqpExchange,
				)
			},
		})
	}
	if len(pending) == 0 && len(n.config.relayPublishers) == 0 {
		return nil
	}
	pubs := make([]relay.Publisher, len(pending))
	var g errgroup.Group
	for i, tmpRelay := range pending {
		g.Go(func() error {
			pub, err := tmpRelay.connect()
			if err != nil {
				return fmt.Errorf("failed to connect %s relay: %w", tmpRelay.name, err)
			}
			pubs[i] = pub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, pub := range pubs {
			if pub != nil {
				_ = pub.Close()
			}
		}
		return err
	}
	manager, err := relay.NewManager(relay.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		EventBus:     n.eventBus,
		QueueSize:    n.config.relayQueueSize,
	})
	if err != nil {
		return err
	}
	n.relays = manager
	for i, tmpRelay := range pending {
		manager.Add(tmpRelay.name, pubs[i], tmpRelay.subject)
	}
	for _, tmpRelay := range n.config.relayPublishers {
		manager.Add(tmpRelay.Name, tmpRelay.Publisher, tmpRelay.Subject)
	}
	return nil
}

func (n *Node) startArchiver(ctx context.Context) error {
	backend := n.config.archiveBackend
	if backend == nil {
		if n.config.archiveLocation == "" {
			return nil
		}
		var err error
		backend, err = archive.NewBackend(
			ctx,
			n.config.archiveLocation,
			n.config.archiveBackendOpts,
		)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
	}
	archiver, err := archive.New(archive.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		EventBus:     n.eventBus,
		Ledger:       n.ledger,
		State:        n.state,
		Backend:      backend,
		Encrypt:      n.config.archiveEncrypt,
	})
	if err != nil {
		return err
	}
	n.archiver = archiver
	return archiver.Start()
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		n.config.shutdownTimeout,
	)
	defer cancel()

	var err error
	logger := n.config.logger

	logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	logger.Debug("shutdown phase 1: stopping new work")

	if n.api != nil {
		if stopErr := n.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}
	if n.auditor != nil {
		n.auditor.Stop()
	}
	if n.sequencer != nil {
		n.sequencer.Stop()
	}

	// Phase 2: Drain relays and exports
	logger.Debug("shutdown phase 2: draining relays")

	if n.relays != nil {
		if stopErr := n.relays.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("relay shutdown: %w", stopErr))
		}
	}
	if n.archiver != nil {
		if stopErr := n.archiver.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("archive shutdown: %w", stopErr))
		}
	}
	n.eventBus.Stop()

	// Phase 3: Close database
	logger.Debug("shutdown phase 3: closing database")

	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	logger.Debug("shutdown phase 4: cleanup resources")

	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}

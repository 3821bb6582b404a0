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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/auctioneer"
	"github.com/blinklabs-io/auctioneer/archive"
	"github.com/blinklabs-io/auctioneer/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NodeOptions builds the node options for a loaded config
func NodeOptions(
	cfg *config.Config,
	logger *slog.Logger,
	registry prometheus.Registerer,
) ([]auctioneer.ConfigOptionFunc, error) {
	shutdownTimeout, pingInterval, auditInterval, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	opts := []auctioneer.ConfigOptionFunc{
		auctioneer.WithLogger(logger),
		auctioneer.WithPrometheusRegistry(registry),
		auctioneer.WithDatabasePath(cfg.DatabasePath),
		auctioneer.WithBlobPlugin(cfg.BlobPlugin),
		auctioneer.WithMetadataPlugin(cfg.MetadataPlugin),
		auctioneer.WithAPIListenAddress(
			fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ApiPort),
		),
		auctioneer.WithAllowedOrigins(cfg.AllowedOrigins...),
		auctioneer.WithPingInterval(pingInterval),
		auctioneer.WithBidRateLimit(cfg.BidRateLimit, cfg.BidRateBurst),
		auctioneer.WithReplayCacheSize(cfg.ReplayCacheSize),
		auctioneer.WithSubscriberQueueSize(cfg.SubscriberQueueSize),
		auctioneer.WithMaxSubscribersPerIP(cfg.MaxSubscribersPerIP),
		auctioneer.WithEventBusWorkers(
			cfg.EventBusWorkers,
			cfg.EventBusQueueSize,
		),
		auctioneer.WithRelayQueueSize(cfg.Relay.QueueSize),
		auctioneer.WithAudit(auditInterval, cfg.AuditConcurrency),
		auctioneer.WithTracing(cfg.Tracing),
		auctioneer.WithTracingStdout(cfg.TracingStdout),
	}
	if shutdownTimeout > 0 {
		opts = append(opts, auctioneer.WithShutdownTimeout(shutdownTimeout))
	}
	if cfg.Relay.RedisURL != "" {
		opts = append(opts, auctioneer.WithRedisRelay(cfg.Relay.RedisURL))
	}
	if cfg.Relay.NatsURL != "" {
		opts = append(opts, auctioneer.WithNATSRelay(cfg.Relay.NatsURL))
	}
	if cfg.Relay.AmqpURL != "" {
		opts = append(
			opts,
			auctioneer.WithAMQPRelay(cfg.Relay.AmqpURL, cfg.Relay.AmqpExchange),
		)
	}
	if cfg.Archive.Location != "" {
		opts = append(
			opts,
			auctioneer.WithArchive(
				cfg.Archive.Location,
				cfg.Archive.Encrypt,
				archive.BackendOptions{
					CredentialsFile: cfg.Archive.CredentialsFile,
					Region:          cfg.Archive.Region,
				},
			),
		)
	}
	return opts, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := NodeOptions(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	nodeCfg := auctioneer.NewConfig(opts...)
	shutdownTimeout, _, _, _ := cfg.Durations()
	if shutdownTimeout <= 0 {
		shutdownTimeout = auctioneer.DefaultShutdownTimeout
	}
	n, err := auctioneer.New(nodeCfg)
	if err != nil {
		return err
	}
	// Metrics listener
	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
		logger.Info(
			"serving prometheus metrics on "+metricsAddr,
			"component",
			"node",
		)
		metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	}
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	errChan := make(chan error, 2)
	if metricsServer != nil {
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
	}
	go func() {
		errChan <- n.Run(signalCtx)
	}()

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
		}
		if err := n.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		return nil
	}

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		if err := shutdown(); err != nil {
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errChan:
		signalCtxStop()
		if err == nil {
			logger.Info("node stopped")
			return shutdown()
		}
		logger.Error("node error", "error", err)
		if stopErr := shutdown(); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err
	}
}

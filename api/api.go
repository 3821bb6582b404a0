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

// Package api serves bid submission, auction queries and live auction
// subscriptions over HTTP and WebSocket
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"connectrpc.com/grpcreflect"
	"github.com/blinklabs-io/auctioneer/fanout"
	"github.com/blinklabs-io/auctioneer/sequencer"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	DefaultListenAddress = ":8080"
	DefaultPingInterval  = 30 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	maxRequestBodySize   = 64 * 1024
)

type Config struct {
	Logger        *slog.Logger
	PromRegistry  prometheus.Registerer
	ListenAddress string
	Sequencer     *sequencer.Sequencer
	Fanout        *fanout.Service
	// AllowedOrigins limits WebSocket upgrades by Origin header. Empty
	// allows any origin
	AllowedOrigins []string
	PingInterval   time.Duration
}

// Server is the HTTP/WebSocket front end
type Server struct {
	config     Config
	logger     *slog.Logger
	sequencer  *sequencer.Sequencer
	fanout     *fanout.Service
	metrics    *apiMetrics
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
}

func New(cfg Config) (*Server, error) {
	if cfg.Sequencer == nil {
		return nil, errors.New("api requires a sequencer")
	}
	if cfg.Fanout == nil {
		return nil, errors.New("api requires a fanout service")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	s := &Server{
		config:    cfg,
		logger:    cfg.Logger.With("component", "api"),
		sequencer: cfg.Sequencer,
		fanout:    cfg.Fanout,
		metrics:   newAPIMetrics(cfg.PromRegistry),
	}
	s.handler = s.buildHandler()
	return s, nil
}

// Handler returns the root handler, including the gRPC health services.
// It serves HTTP/2 without TLS via h2c
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.metrics.middleware)
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auctions", s.handleCreateAuction).Methods(http.MethodPost)
	api.HandleFunc("/auctions", s.handleListAuctions).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}", s.handleGetAuction).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/bids", s.handleSubmitBid).
		Methods(http.MethodPost)
	api.HandleFunc("/auctions/{id}/bids/latest", s.handleLatestBids).
		Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/events", s.handleAuditLog).
		Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/leaderboard", s.handleLeaderboard).
		Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/history", s.handleStatusHistory).
		Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/verify", s.handleVerify).
		Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/autobids/{bidder}", s.handleSetAutoBid).
		Methods(http.MethodPut, http.MethodPost)
	api.HandleFunc("/auctions/{id}/autobids/{bidder}", s.handleGetAutoBid).
		Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/autobids/{bidder}", s.handleCancelAutoBid).
		Methods(http.MethodDelete)
	api.HandleFunc(
		"/auctions/{id}/{action:open|pause|resume|close}",
		s.handleTransition,
	).Methods(http.MethodPost)
	api.HandleFunc("/bids/{bid_id}", s.handleBidStatus).Methods(http.MethodGet)
	api.HandleFunc("/bidders/{id}/bids", s.handleBidderHistory).
		Methods(http.MethodGet)
	router.HandleFunc("/ws/auctions/{id}", s.handleWebSocket).
		Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	compress1KB := connect.WithCompressMinBytes(1024)
	healthPath, healthHandler := grpchealth.NewHandler(
		grpchealth.NewStaticChecker(),
		compress1KB,
	)
	router.PathPrefix(healthPath).Handler(healthHandler)
	reflector := grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName)
	reflectPath, reflectHandler := grpcreflect.NewHandlerV1(
		reflector,
		compress1KB,
	)
	router.PathPrefix(reflectPath).Handler(reflectHandler)
	reflectAlphaPath, reflectAlphaHandler := grpcreflect.NewHandlerV1Alpha(
		reflector,
		compress1KB,
	)
	router.PathPrefix(reflectAlphaPath).Handler(reflectAlphaHandler)
	router.NotFoundHandler = http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusNotFound, "not found")
		},
	)
	router.MethodNotAllowedHandler = http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		},
	)
	// Use h2c so we can serve HTTP/2 without TLS
	return h2c.NewHandler(router, &http2.Server{})
}

// Start binds the listen address and serves in the background until Stop
// is called or ctx is done
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("server already started")
	}
	listenConfig := net.ListenConfig{Control: socketControl}
	ln, err := listenConfig.Listen(ctx, "tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	s.httpServer = server
	s.listener = ln
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	s.logger.Info("API listener started on " + ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Debug("shutting down API server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	return nil
}

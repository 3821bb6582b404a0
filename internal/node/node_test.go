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
	"io"
	"log/slog"
	"testing"

	"github.com/blinklabs-io/auctioneer"
	"github.com/blinklabs-io/auctioneer/internal/config"
	"github.com/prometheus/client_golang/prometheus"
)

func TestNodeOptions(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := &config.Config{
		ApiPort:          0,
		BidRateLimit:     1,
		BidRateBurst:     1,
		ShutdownTimeout:  "5s",
		AuditInterval:    "1m",
		AuditConcurrency: 1,
		Archive: config.ArchiveConfig{
			Location: "file://" + t.TempDir(),
		},
	}
	opts, err := NodeOptions(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	n, err := auctioneer.New(auctioneer.NewConfig(opts...))
	if err != nil {
		t.Fatalf("expected valid node config, got: %v", err)
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
}

func TestNodeOptionsInvalidDuration(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := &config.Config{PingInterval: "often"}
	if _, err := NodeOptions(cfg, logger, prometheus.NewRegistry()); err == nil {
		t.Fatalf("expected error for invalid ping interval")
	}
}

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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/blinklabs-io/auctioneer/archive"
	"github.com/blinklabs-io/auctioneer/database"
	"github.com/blinklabs-io/auctioneer/internal/config"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/verifier"
	"github.com/spf13/cobra"
)

var errVerifyFailed = errors.New("verification failed")

// verifyLedger checks the stored ledger of each auction, or of every
// auction when none are named
func verifyLedger(
	ctx context.Context,
	out io.Writer,
	cfg *config.Config,
	logger *slog.Logger,
	auctionIDs []string,
) error {
	db, err := database.New(&database.Config{
		DataDir:        cfg.DatabasePath,
		Logger:         logger,
		BlobPlugin:     cfg.BlobPlugin,
		MetadataPlugin: cfg.MetadataPlugin,
	})
	if db == nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err != nil {
		var dbErr database.CommitTimestampError
		if !errors.As(err, &dbErr) {
			return fmt.Errorf("opening database: %w", err)
		}
		// The blob ledger is authoritative, so it can still be verified
		logger.Warn("metadata store is out of date", "error", err)
	}
	l, err := ledger.New(db, logger)
	if err != nil {
		return err
	}
	if len(auctionIDs) == 0 {
		auctionIDs, err = l.AuctionIDs(ctx)
		if err != nil {
			return err
		}
	}
	failed := false
	for _, auctionID := range auctionIDs {
		res, err := verifier.Verify(ctx, l, auctionID)
		if err != nil {
			return fmt.Errorf("verify %s: %w", auctionID, err)
		}
		if res.Valid {
			fmt.Fprintf(out, "%s: valid (%d records)\n", auctionID, res.Checked)
			continue
		}
		failed = true
		fmt.Fprintf(
			out,
			"%s: INVALID at seq %d: %v\n",
			auctionID,
			res.InvalidAtSeq,
			res.Err,
		)
	}
	if failed {
		return errVerifyFailed
	}
	return nil
}

// verifySegment checks an archived ledger segment file
func verifySegment(out io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".sops") {
		data, err = archive.Decrypt(data)
		if err != nil {
			return fmt.Errorf("decrypt segment: %w", err)
		}
	}
	seg, err := archive.UnmarshalSegment(data)
	if err != nil {
		return err
	}
	if err := seg.Verify(); err != nil {
		fmt.Fprintf(out, "%s: INVALID: %v\n", seg.Auction.AuctionID, err)
		return errVerifyFailed
	}
	fmt.Fprintf(
		out,
		"%s: valid archive (%d records, final price %s)\n",
		seg.Auction.AuctionID,
		len(seg.Events),
		seg.Auction.CurrentPrice,
	)
	return nil
}

func verifyCommand() *cobra.Command {
	var segmentPath string
	cmd := &cobra.Command{
		Use:   "verify [auction-id...]",
		Short: "Verify the hash chain of stored or archived auction ledgers",
		Run: func(cmd *cobra.Command, args []string) {
			var err error
			if segmentPath != "" {
				err = verifySegment(os.Stdout, segmentPath)
			} else {
				cfg := config.FromContext(cmd.Context())
				if cfg == nil {
					slog.Error("no config found in context")
					os.Exit(1)
				}
				logger := commonRun()
				err = verifyLedger(cmd.Context(), os.Stdout, cfg, logger, args)
			}
			if err != nil {
				if !errors.Is(err, errVerifyFailed) {
					slog.Error(err.Error())
				}
				os.Exit(1)
			}
		},
	}
	cmd.Flags().
		StringVar(&segmentPath, "segment", "", "verify an archived ledger segment file instead of the database")
	return cmd
}

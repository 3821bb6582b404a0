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
	"errors"
	"fmt"

	"github.com/blinklabs-io/auctioneer/state"
)

var (
	ErrValidation        = errors.New("invalid bid request")
	ErrAuctionNotFound   = state.ErrAuctionNotFound
	ErrAuctionExists     = errors.New("auction already exists")
	ErrInvalidTransition = state.ErrInvalidTransition
	ErrRateLimited       = errors.New("bid rate limit exceeded")
	ErrLedgerWrite       = errors.New("ledger write failed")
	ErrAuctionNotActive  = errors.New("auction is not active")
	ErrAutoBidNotFound   = errors.New("auto bid not found")
	// ErrIndexBehind marks a LedgerWriteError for an auction whose
	// metadata has not caught up with its ledger yet
	ErrIndexBehind = errors.New("auction index behind ledger")
)

// ValidationError is returned for requests that are rejected before they
// are sequenced. No sequence number is consumed
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field string, reason string) ValidationError {
	return ValidationError{
		Field:  field,
		Reason: reason,
	}
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// LedgerWriteError wraps a failed durable write. In-memory state is not
// changed and the request can be retried
type LedgerWriteError struct {
	AuctionID string
	Err       error
}

func (e LedgerWriteError) Error() string {
	return fmt.Sprintf(
		"ledger write failed for auction %s: %s",
		e.AuctionID,
		e.Err,
	)
}

func (e LedgerWriteError) Unwrap() error {
	return e.Err
}

func (e LedgerWriteError) Is(target error) bool {
	return target == ErrLedgerWrite
}

// Temporary reports that the failure is transient
func (e LedgerWriteError) Temporary() bool {
	return true
}

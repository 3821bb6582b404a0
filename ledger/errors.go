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

package ledger

import (
	"errors"
	"fmt"
)

const maxAuctionIDLength = 128

var (
	ErrRecordNotFound   = errors.New("ledger record not found")
	ErrIteratorTip      = errors.New("ledger iterator is at tip")
	ErrInvalidAuctionID = errors.New("invalid auction id")
	ErrChainIntegrity   = errors.New("chain integrity violation")
	ErrInvalidTip       = errors.New("invalid ledger tip")
)

// ChainIntegrityError describes the first point at which an auction's
// ledger fails verification
type ChainIntegrityError struct {
	AuctionID string
	Seq       uint64
	Reason    string
}

func NewChainIntegrityError(
	auctionID string,
	seq uint64,
	reason string,
) ChainIntegrityError {
	return ChainIntegrityError{
		AuctionID: auctionID,
		Seq:       seq,
		Reason:    reason,
	}
}

func (e ChainIntegrityError) Error() string {
	return fmt.Sprintf(
		"chain integrity violation in auction %s at seq %d: %s",
		e.AuctionID,
		e.Seq,
		e.Reason,
	)
}

func (e ChainIntegrityError) Is(target error) bool {
	return target == ErrChainIntegrity
}

// ValidateAuctionID checks that an auction id is usable as part of a
// storage key
func ValidateAuctionID(auctionID string) error {
	if auctionID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAuctionID)
	}
	if len(auctionID) > maxAuctionIDLength {
		return fmt.Errorf(
			"%w: longer than %d bytes",
			ErrInvalidAuctionID,
			maxAuctionIDLength,
		)
	}
	for _, c := range auctionID {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return fmt.Errorf(
				"%w: unexpected character %q",
				ErrInvalidAuctionID,
				c,
			)
		}
	}
	return nil
}

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

package types

import (
	"encoding/binary"
	"slices"
)

const (
	BidEventBlobKeyPrefix  = "bev"
	LedgerTipBlobKeyPrefix = "btip"
	// keySeparator terminates the auction ID inside a key so that one
	// auction's key range can never be a prefix of another's
	keySeparator = 0x00
)

func BlobKeyUint64ToBytes(input uint64) []byte {
	ret := make([]byte, 8)
	binary.BigEndian.PutUint64(ret, input)
	return ret
}

// BidEventBlobKeyPrefixForAuction returns the key prefix shared by every
// ledger record of an auction
func BidEventBlobKeyPrefixForAuction(auctionId string) []byte {
	return slices.Concat(
		[]byte(BidEventBlobKeyPrefix),
		[]byte(auctionId),
		[]byte{keySeparator},
	)
}

// BidEventBlobKey returns the key of a single ledger record. Keys sort in
// sequence order within an auction
func BidEventBlobKey(auctionId string, seq uint64) []byte {
	return slices.Concat(
		BidEventBlobKeyPrefixForAuction(auctionId),
		BlobKeyUint64ToBytes(seq),
	)
}

// BidEventBlobKeySeq extracts the sequence number from a ledger record key
func BidEventBlobKeySeq(key []byte) (uint64, bool) {
	if len(key) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), true
}

func LedgerTipBlobKey(auctionId string) []byte {
	return slices.Concat(
		[]byte(LedgerTipBlobKeyPrefix),
		[]byte(auctionId),
		[]byte{keySeparator},
	)
}

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

package types_test

import (
	"bytes"
	"testing"

	"github.com/blinklabs-io/auctioneer/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBidEventBlobKeyOrdering(t *testing.T) {
	k1 := types.BidEventBlobKey("A1", 1)
	k2 := types.BidEventBlobKey("A1", 2)
	k256 := types.BidEventBlobKey("A1", 256)
	assert.Equal(t, -1, bytes.Compare(k1, k2))
	assert.Equal(t, -1, bytes.Compare(k2, k256))
	prefix := types.BidEventBlobKeyPrefixForAuction("A1")
	assert.True(t, bytes.HasPrefix(k256, prefix))
	// An auction whose ID extends another's must not share its key range
	assert.False(
		t,
		bytes.HasPrefix(types.BidEventBlobKey("A10", 1), prefix),
	)
}

func TestBidEventBlobKeySeq(t *testing.T) {
	seq, ok := types.BidEventBlobKeySeq(types.BidEventBlobKey("auction-7", 42))
	require.True(t, ok)
	assert.Equal(t, uint64(42), seq)
	_, ok = types.BidEventBlobKeySeq([]byte("short"))
	assert.False(t, ok)
}

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

package badger_test

import (
	"testing"

	"github.com/blinklabs-io/auctioneer/database/plugin/blob/badger"
	"github.com/blinklabs-io/auctioneer/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStoreInMemory(t *testing.T) {
	db, err := badger.New(badger.WithPromRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer db.Close()

	txn := db.NewTransaction(true)
	require.NoError(t, db.Set(txn, []byte("k1"), []byte("v1")))
	require.NoError(t, db.Set(txn, []byte("k2"), []byte("v2")))
	require.NoError(t, db.SetCommitTimestamp(1234, txn))
	require.NoError(t, txn.Commit())
	// Using a finished transaction is an error
	_, err = db.Get(txn, []byte("k1"))
	require.ErrorIs(t, err, types.ErrTxnFinished)

	rtxn := db.NewTransaction(false)
	defer rtxn.Rollback() //nolint:errcheck
	val, err := db.Get(rtxn, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)
	_, err = db.Get(rtxn, []byte("missing"))
	require.ErrorIs(t, err, types.ErrBlobKeyNotFound)

	iter := db.NewIterator(rtxn, types.BlobIteratorOptions{Prefix: []byte("k")})
	var keys []string
	for iter.Rewind(); iter.ValidForPrefix([]byte("k")); iter.Next() {
		keys = append(keys, string(iter.Item().Key()))
	}
	iter.Close()
	assert.Equal(t, []string{"k1", "k2"}, keys)

	ts, err := db.GetCommitTimestamp()
	require.NoError(t, err)
	assert.Equal(t, int64(1234), ts)
}

func TestBlobStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	db, err := badger.New(badger.WithDataDir(dir), badger.WithGc(true))
	require.NoError(t, err)
	txn := db.NewTransaction(true)
	require.NoError(t, db.Set(txn, []byte("persist"), []byte("yes")))
	require.NoError(t, txn.Commit())
	require.NoError(t, db.Close())
	// Close is idempotent
	require.NoError(t, db.Close())

	db, err = badger.New(badger.WithDataDir(dir))
	require.NoError(t, err)
	defer db.Close()
	rtxn := db.NewTransaction(false)
	defer rtxn.Rollback() //nolint:errcheck
	val, err := db.Get(rtxn, []byte("persist"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), val)
}

func TestTxnFromOtherStore(t *testing.T) {
	db1, err := badger.New()
	require.NoError(t, err)
	defer db1.Close()
	db2, err := badger.New()
	require.NoError(t, err)
	defer db2.Close()
	txn := db1.NewTransaction(true)
	defer txn.Rollback() //nolint:errcheck
	require.Error(t, db2.Set(txn, []byte("k"), []byte("v")))
}

func TestTxnAfterClose(t *testing.T) {
	store, err := badger.New()
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	txn := store.NewTransaction(true)
	require.ErrorIs(
		t,
		store.Set(txn, []byte("k"), []byte("v")),
		types.ErrBlobStoreUnavailable,
	)
	require.ErrorIs(t, txn.Commit(), types.ErrBlobStoreUnavailable)
	require.NoError(t, txn.Rollback())
}

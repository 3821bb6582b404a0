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

import "errors"

var (
	// ErrBlobKeyNotFound is returned when a ledger record or tip key is missing
	ErrBlobKeyNotFound = errors.New("blob key not found")
	// ErrBlobStoreUnavailable is returned once the blob store has been closed
	ErrBlobStoreUnavailable = errors.New("blob store unavailable")
	ErrTxnWrongType         = errors.New("invalid transaction type")
	ErrNilTxn               = errors.New("nil transaction")
	ErrNoStoreAvailable     = errors.New("no store available")
	ErrTxnFinished          = errors.New("transaction already finished")
)

// Txn is the commit/rollback handle shared by the blob and metadata stores
type Txn interface {
	Commit() error
	Rollback() error
}

// BlobItem is a single key/value pair yielded while walking ledger keys
type BlobItem interface {
	Key() []byte
	ValueCopy(dst []byte) ([]byte, error)
}

// BlobIterator walks keys in ascending order. Ledger records for one
// auction sort by sequence number, so a Seek to a record key followed by
// ValidForPrefix on the auction prefix yields a contiguous range.
//
// Items must only be accessed while the owning transaction is open.
type BlobIterator interface {
	Rewind()
	Seek(key []byte)
	ValidForPrefix(prefix []byte) bool
	Next()
	Item() BlobItem
	Close()
	Err() error
}

// BlobIteratorOptions configures blob iterator creation
type BlobIteratorOptions struct {
	Prefix []byte
	// KeysOnly skips value prefetching, for walks such as tip enumeration
	// that never read record bodies
	KeysOnly bool
}

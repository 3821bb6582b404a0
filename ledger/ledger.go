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
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/auctioneer/database"
	"github.com/blinklabs-io/auctioneer/database/types"
	"github.com/google/uuid"
)

// Tip is the position of the most recent event in an auction's ledger
type Tip struct {
	Seq  uint64
	Hash []byte
}

func encodeTip(tip Tip) []byte {
	ret := make([]byte, 8, 8+len(tip.Hash))
	binary.BigEndian.PutUint64(ret, tip.Seq)
	return append(ret, tip.Hash...)
}

func decodeTip(data []byte) (Tip, error) {
	if len(data) != 8+HashSize {
		return Tip{}, fmt.Errorf("%w: length %d", ErrInvalidTip, len(data))
	}
	return Tip{
		Seq:  binary.BigEndian.Uint64(data[:8]),
		Hash: bytes.Clone(data[8:]),
	}, nil
}

// Ledger is the append-only, hash-chained record of every bid decision.
// Records live in the blob store. Each append also writes an index row to
// the metadata store in the same transaction
type Ledger struct {
	db          *database.Database
	logger      *slog.Logger
	tipsMutex   sync.RWMutex
	tips        map[string]Tip
	waitersLock sync.Mutex
	waiters     map[string]chan struct{}
}

func New(db *database.Database, logger *slog.Logger) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("ledger requires a database")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Ledger{
		db:      db,
		logger:  logger.With("component", "ledger"),
		tips:    make(map[string]Tip),
		waiters: make(map[string]chan struct{}),
	}, nil
}

func (l *Ledger) DB() *database.Database {
	return l.db
}

// Append assigns the next sequence number and hashes to evt and writes it
// inside txn. The caller must hold the auction's serialization context
// and call Commit once txn has been committed
func (l *Ledger) Append(txn *database.Txn, evt Event) (Event, error) {
	if txn == nil || txn.Blob() == nil {
		return Event{}, types.ErrNilTxn
	}
	if err := ValidateAuctionID(evt.AuctionID); err != nil {
		return Event{}, err
	}
	tip, err := l.tip(txn, evt.AuctionID)
	if err != nil {
		return Event{}, fmt.Errorf("read ledger tip: %w", err)
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.ServerTime.IsZero() {
		evt.ServerTime = time.Now().UTC()
	}
	evt.Seq = tip.Seq + 1
	evt.HashPrev = bytes.Clone(tip.Hash)
	evt.HashCurr, err = evt.ComputeHash()
	if err != nil {
		return Event{}, fmt.Errorf("hash event: %w", err)
	}
	record, err := evt.MarshalRecord()
	if err != nil {
		return Event{}, fmt.Errorf("encode event: %w", err)
	}
	blob := l.db.Blob()
	if err := blob.Set(
		txn.Blob(),
		types.BidEventBlobKey(evt.AuctionID, evt.Seq),
		record,
	); err != nil {
		return Event{}, fmt.Errorf("write ledger record: %w", err)
	}
	if err := blob.Set(
		txn.Blob(),
		types.LedgerTipBlobKey(evt.AuctionID),
		encodeTip(Tip{Seq: evt.Seq, Hash: evt.HashCurr}),
	); err != nil {
		return Event{}, fmt.Errorf("write ledger tip: %w", err)
	}
	if txn.Metadata() != nil {
		if err := l.db.AddBidEvent(evt.ToModel(), txn); err != nil {
			return Event{}, fmt.Errorf("index ledger record: %w", err)
		}
	}
	return evt, nil
}

// Commit advances the in-memory tip after the transaction holding evt has
// been committed, and wakes blocked iterators
func (l *Ledger) Commit(evt Event) {
	l.tipsMutex.Lock()
	if cur, ok := l.tips[evt.AuctionID]; !ok || evt.Seq > cur.Seq {
		l.tips[evt.AuctionID] = Tip{
			Seq:  evt.Seq,
			Hash: bytes.Clone(evt.HashCurr),
		}
	}
	l.tipsMutex.Unlock()
	l.notify(evt.AuctionID)
}

// Invalidate drops the cached tip for an auction. The next access reloads
// it from storage
func (l *Ledger) Invalidate(auctionID string) {
	l.tipsMutex.Lock()
	delete(l.tips, auctionID)
	l.tipsMutex.Unlock()
	// Iterators re-check storage on wake-up
	l.notify(auctionID)
}

// Tip returns the position of the last committed event. An auction with no
// events is at seq 0 with the genesis hash
func (l *Ledger) Tip(auctionID string) (Tip, error) {
	l.tipsMutex.RLock()
	tip, ok := l.tips[auctionID]
	l.tipsMutex.RUnlock()
	if ok {
		return Tip{Seq: tip.Seq, Hash: bytes.Clone(tip.Hash)}, nil
	}
	txn := l.db.BlobTransaction(false)
	defer txn.Release()
	return l.tip(txn, auctionID)
}

// StoredTip reads the tip record directly from storage, bypassing the cache
func (l *Ledger) StoredTip(auctionID string) (Tip, error) {
	txn := l.db.BlobTransaction(false)
	defer txn.Release()
	return l.readTip(txn, auctionID)
}

func (l *Ledger) tip(txn *database.Txn, auctionID string) (Tip, error) {
	l.tipsMutex.RLock()
	tip, ok := l.tips[auctionID]
	l.tipsMutex.RUnlock()
	if ok {
		return Tip{Seq: tip.Seq, Hash: bytes.Clone(tip.Hash)}, nil
	}
	tip, err := l.readTip(txn, auctionID)
	if err != nil {
		return Tip{}, err
	}
	l.tipsMutex.Lock()
	if _, ok := l.tips[auctionID]; !ok {
		l.tips[auctionID] = tip
	}
	l.tipsMutex.Unlock()
	return Tip{Seq: tip.Seq, Hash: bytes.Clone(tip.Hash)}, nil
}

func (l *Ledger) readTip(txn *database.Txn, auctionID string) (Tip, error) {
	data, err := l.db.Blob().Get(txn.Blob(), types.LedgerTipBlobKey(auctionID))
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return Tip{Seq: 0, Hash: Genesis(auctionID)}, nil
		}
		return Tip{}, err
	}
	return decodeTip(data)
}

// Record returns a single event
func (l *Ledger) Record(
	ctx context.Context,
	auctionID string,
	seq uint64,
) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	txn := l.db.BlobTransaction(false)
	defer txn.Release()
	data, err := l.db.Blob().Get(
		txn.Blob(),
		types.BidEventBlobKey(auctionID, seq),
	)
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return Event{}, ErrRecordNotFound
		}
		return Event{}, err
	}
	return UnmarshalRecord(data)
}

// ReadRange returns the events with fromSeq <= seq <= toSeq in order. A
// toSeq of 0 reads through the current tip
func (l *Ledger) ReadRange(
	ctx context.Context,
	auctionID string,
	fromSeq uint64,
	toSeq uint64,
) ([]Event, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}
	if toSeq != 0 && toSeq < fromSeq {
		return nil, nil
	}
	var ret []Event
	err := l.Walk(ctx, auctionID, fromSeq, func(rec RawRecord) error {
		if toSeq != 0 && rec.KeySeq > toSeq {
			return errStopWalk
		}
		if rec.Err != nil {
			return fmt.Errorf(
				"decode ledger record %d: %w",
				rec.KeySeq,
				rec.Err,
			)
		}
		ret = append(ret, rec.Event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// RawRecord is a stored ledger record as found during a walk. Err is set
// when the record could not be decoded
type RawRecord struct {
	KeySeq uint64
	Event  Event
	Err    error
}

var errStopWalk = errors.New("stop walk")

// Walk calls fn for every stored record of an auction starting at fromSeq,
// in key order, from a single read snapshot. Returning an error from fn
// stops the walk
func (l *Ledger) Walk(
	ctx context.Context,
	auctionID string,
	fromSeq uint64,
	fn func(RawRecord) error,
) error {
	txn := l.db.BlobTransaction(false)
	defer txn.Release()
	return l.walk(ctx, txn, auctionID, fromSeq, fn)
}

// WalkWithTip is Walk that also returns the stored tip, read from the same
// snapshot as the records so that concurrent appends cannot make the two
// disagree. A tip that cannot be decoded is reported as ErrInvalidTip once
// the walk has finished
func (l *Ledger) WalkWithTip(
	ctx context.Context,
	auctionID string,
	fromSeq uint64,
	fn func(RawRecord) error,
) (Tip, error) {
	txn := l.db.BlobTransaction(false)
	defer txn.Release()
	tip, tipErr := l.readTip(txn, auctionID)
	if tipErr != nil && !errors.Is(tipErr, ErrInvalidTip) {
		return Tip{}, tipErr
	}
	if err := l.walk(ctx, txn, auctionID, fromSeq, fn); err != nil {
		return Tip{}, err
	}
	return tip, tipErr
}

func (l *Ledger) walk(
	ctx context.Context,
	txn *database.Txn,
	auctionID string,
	fromSeq uint64,
	fn func(RawRecord) error,
) error {
	prefix := types.BidEventBlobKeyPrefixForAuction(auctionID)
	it := l.db.Blob().NewIterator(
		txn.Blob(),
		types.BlobIteratorOptions{Prefix: prefix},
	)
	defer it.Close()
	for it.Seek(types.BidEventBlobKey(auctionID, fromSeq)); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		key := item.Key()
		if len(key) != len(prefix)+8 {
			continue
		}
		seq, _ := types.BidEventBlobKeySeq(key)
		rec := RawRecord{KeySeq: seq}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read ledger record %d: %w", seq, err)
		}
		rec.Event, rec.Err = UnmarshalRecord(data)
		if err := fn(rec); err != nil {
			if errors.Is(err, errStopWalk) {
				return nil
			}
			return err
		}
	}
	return it.Err()
}

// AuctionIDs returns every auction that has at least one ledger record
func (l *Ledger) AuctionIDs(ctx context.Context) ([]string, error) {
	txn := l.db.BlobTransaction(false)
	defer txn.Release()
	prefix := []byte(types.LedgerTipBlobKeyPrefix)
	it := l.db.Blob().NewIterator(
		txn.Blob(),
		types.BlobIteratorOptions{Prefix: prefix, KeysOnly: true},
	)
	defer it.Close()
	var ret []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := it.Item().Key()
		if len(key) < len(prefix)+2 {
			continue
		}
		ret = append(ret, string(key[len(prefix):len(key)-1]))
	}
	return ret, it.Err()
}

func (l *Ledger) waitChan(auctionID string) <-chan struct{} {
	l.waitersLock.Lock()
	defer l.waitersLock.Unlock()
	ch, ok := l.waiters[auctionID]
	if !ok {
		ch = make(chan struct{})
		l.waiters[auctionID] = ch
	}
	return ch
}

func (l *Ledger) notify(auctionID string) {
	l.waitersLock.Lock()
	defer l.waitersLock.Unlock()
	if ch, ok := l.waiters[auctionID]; ok {
		close(ch)
		delete(l.waiters, auctionID)
	}
}

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

package state

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/auctioneer/ledger"
)

type entry struct {
	// writers serialize on mutex; readers only load the pointer
	mutex    sync.Mutex
	snapshot atomic.Pointer[Snapshot]
}

// Store holds the current snapshot of every live auction. Reads never take
// a lock
type Store struct {
	auctions sync.Map // auction ID -> *entry
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) load(auctionID string) (*entry, bool) {
	tmp, ok := s.auctions.Load(auctionID)
	if !ok {
		return nil, false
	}
	return tmp.(*entry), true
}

// Get returns the current snapshot of an auction
func (s *Store) Get(auctionID string) (Snapshot, bool) {
	e, ok := s.load(auctionID)
	if !ok {
		return Snapshot{}, false
	}
	snap := e.snapshot.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return snap.Clone(), true
}

// Put replaces the snapshot of an auction, creating it if needed
func (s *Store) Put(snap Snapshot) {
	tmp, _ := s.auctions.LoadOrStore(snap.AuctionID, &entry{})
	e := tmp.(*entry)
	e.mutex.Lock()
	defer e.mutex.Unlock()
	stored := snap.Clone()
	e.snapshot.Store(&stored)
}

// Apply folds a ledger event into its auction's snapshot. It returns the
// resulting snapshot and whether the event changed it. Replayed events
// at or below the snapshot's LastSeq are ignored
func (s *Store) Apply(evt ledger.Event) (Snapshot, bool) {
	e, ok := s.load(evt.AuctionID)
	if !ok {
		return Snapshot{}, false
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	cur := e.snapshot.Load()
	if cur == nil {
		return Snapshot{}, false
	}
	if evt.Seq <= cur.LastSeq {
		return cur.Clone(), false
	}
	next := Fold(*cur, evt)
	e.snapshot.Store(&next)
	return next.Clone(), true
}

// ApplyStatus moves an auction to a new status. It does not change the
// ledger position of the snapshot
func (s *Store) ApplyStatus(
	auctionID string,
	status Status,
	at time.Time,
) (Snapshot, error) {
	e, ok := s.load(auctionID)
	if !ok {
		return Snapshot{}, ErrAuctionNotFound
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	cur := e.snapshot.Load()
	if cur == nil {
		return Snapshot{}, ErrAuctionNotFound
	}
	next, err := cur.WithStatus(status, at)
	if err != nil {
		return Snapshot{}, err
	}
	e.snapshot.Store(&next)
	return next.Clone(), nil
}

// List returns every snapshot ordered by auction ID
func (s *Store) List() []Snapshot {
	var ret []Snapshot
	s.auctions.Range(func(_, value any) bool {
		if snap := value.(*entry).snapshot.Load(); snap != nil {
			ret = append(ret, snap.Clone())
		}
		return true
	})
	slices.SortFunc(ret, func(a, b Snapshot) int {
		return strings.Compare(a.AuctionID, b.AuctionID)
	})
	return ret
}

func (s *Store) Remove(auctionID string) {
	s.auctions.Delete(auctionID)
}

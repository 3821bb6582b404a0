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
	"context"
	"errors"
)

// Iterator reads an auction's ledger in order. It can be resumed at any
// sequence number and, in blocking mode, waits for new appends
type Iterator struct {
	ledger    *Ledger
	auctionID string
	nextSeq   uint64
}

// Iterator returns a reader positioned at fromSeq
func (l *Ledger) Iterator(auctionID string, fromSeq uint64) *Iterator {
	if fromSeq == 0 {
		fromSeq = 1
	}
	return &Iterator{
		ledger:    l,
		auctionID: auctionID,
		nextSeq:   fromSeq,
	}
}

// NextSeq returns the sequence number the next call to Next will return
func (it *Iterator) NextSeq() uint64 {
	return it.nextSeq
}

func (it *Iterator) Next(ctx context.Context, blocking bool) (Event, error) {
	for {
		// Grab the wait channel before checking storage so that an append
		// landing in between is not missed
		var waitCh <-chan struct{}
		if blocking {
			waitCh = it.ledger.waitChan(it.auctionID)
		}
		evt, err := it.ledger.Record(ctx, it.auctionID, it.nextSeq)
		if err == nil {
			it.nextSeq++
			return evt, nil
		}
		if !errors.Is(err, ErrRecordNotFound) {
			return Event{}, err
		}
		if !blocking {
			return Event{}, ErrIteratorTip
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-waitCh:
		}
	}
}

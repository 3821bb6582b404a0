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

package relay

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "bid.events."

// NATSSubject returns the subject of an auction
func NATSSubject(auctionID string) string {
	return natsSubjectPrefix + auctionID
}

// natsConn is the part of *nats.Conn the relay uses
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

type natsPublisher struct {
	conn natsConn
}

// NewNATSPublisher connects to a NATS server
func NewNATSPublisher(url string, opts ...nats.Option) (Publisher, error) {
	opts = append([]nats.Option{nats.Name("auctioneer")}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &natsPublisher{conn: conn}, nil
}

func (p *natsPublisher) Publish(
	ctx context.Context,
	subject string,
	payload []byte,
) error {
	if err := p.conn.Publish(subject, payload); err != nil {
		return err
	}
	// Surface connection problems to the caller instead of buffering
	return p.conn.FlushWithContext(ctx)
}

func (p *natsPublisher) Close() error {
	return p.conn.Drain()
}

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
	"time"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "bid_events:"

// RedisSubject returns the pub/sub channel of an auction
func RedisSubject(auctionID string) string {
	return redisChannelPrefix + auctionID
}

type redisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher connects to redis and verifies the connection
func NewRedisPublisher(
	ctx context.Context,
	opts *redis.Options,
) (Publisher, error) {
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisPublisherFromClient(client), nil
}

// NewRedisPublisherFromURL connects using a redis:// or rediss:// URL
func NewRedisPublisherFromURL(ctx context.Context, url string) (Publisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisPublisher(ctx, opts)
}

// NewRedisPublisherFromClient wraps an existing client
func NewRedisPublisherFromClient(client redis.UniversalClient) Publisher {
	return &redisPublisher{client: client}
}

func (p *redisPublisher) Publish(
	ctx context.Context,
	subject string,
	payload []byte,
) error {
	return p.client.Publish(ctx, subject, payload).Err()
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}

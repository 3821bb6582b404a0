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
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultAMQPExchange   = "auction.events"
	amqpRoutingKeyPrefix  = "auction."
	amqpContentType       = "application/json"
	amqpExchangeTopicKind = "topic"
)

// AMQPRoutingKey returns the routing key of an auction
func AMQPRoutingKey(auctionID string) string {
	return amqpRoutingKeyPrefix + auctionID
}

// amqpChannel is the part of *amqp.Channel the relay uses
type amqpChannel interface {
	PublishWithContext(
		ctx context.Context,
		exchange string,
		key string,
		mandatory bool,
		immediate bool,
		msg amqp.Publishing,
	) error
	Close() error
}

type amqpPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

// NewAMQPPublisher connects to an AMQP broker and declares a durable topic
// exchange
func NewAMQPPublisher(url string, exchange string) (Publisher, error) {
	if exchange == "" {
		exchange = DefaultAMQPExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		amqpExchangeTopicKind,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &amqpPublisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
	}, nil
}

func (p *amqpPublisher) Publish(
	ctx context.Context,
	subject string,
	payload []byte,
) error {
	return p.channel.PublishWithContext(
		ctx,
		p.exchange,
		subject,
		false,
		false,
		amqp.Publishing{
			ContentType:  amqpContentType,
			DeliveryMode: amqp.Persistent,
			Body:         payload,
		},
	)
}

func (p *amqpPublisher) Close() error {
	var errs []error
	if err := p.channel.Close(); err != nil {
		errs = append(errs, err)
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

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

package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type eventMetrics struct {
	eventsTotal    prometheus.Counter
	asyncDropped   prometheus.Counter
	deliveryErrors *prometheus.CounterVec
	subscribers    *prometheus.GaugeVec
}

func (e *EventBus) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	e.metrics = &eventMetrics{
		eventsTotal: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "auctioneer_event_bus_events_total",
			Help: "total events published on the event bus",
		}),
		asyncDropped: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "auctioneer_event_bus_async_overflow_total",
			Help: "async publishes rejected because a topic queue was full",
		}),
		deliveryErrors: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auctioneer_event_bus_delivery_errors_total",
				Help: "subscriber deliveries that failed and removed the subscriber",
			},
			[]string{"kind"},
		),
		subscribers: promautoFactory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "auctioneer_event_bus_subscribers",
				Help: "current event bus subscribers",
			},
			[]string{"kind"},
		),
	}
}

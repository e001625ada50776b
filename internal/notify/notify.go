/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package notify carries user-facing notification events out of the engine.
// Publishing never blocks the state transition that produced the event.
package notify

import (
	"context"
	"sync"
	"time"

	"entitlement-engine-go/internal/metrics"

	"go.uber.org/zap"
)

type EventType string

const (
	LimitReached        EventType = "limit_reached"
	TrialEnding         EventType = "trial_ending"
	SubscriptionExpired EventType = "subscription_expired"
	WithdrawalCompleted EventType = "withdrawal_completed"
	CommissionEarned    EventType = "commission_earned"
)

type Event struct {
	Type       EventType         `json:"type"`
	OwnerId    string            `json:"owner_id"`
	AccountId  string            `json:"account_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(evt Event)
}

// Notifier delivers a single event (email, push, log).
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// LogNotifier writes events to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, evt Event) error {
	fields := []zap.Field{
		zap.String("type", string(evt.Type)),
		zap.String("owner_id", evt.OwnerId),
		zap.Time("occurred_at", evt.OccurredAt),
	}
	if evt.AccountId != "" {
		fields = append(fields, zap.String("account_id", evt.AccountId))
	}
	for k, v := range evt.Data {
		fields = append(fields, zap.String(k, v))
	}
	zap.L().Info("Notification", fields...)
	return nil
}

// Dispatcher hands events to a Notifier on a background goroutine. When the
// queue is full the event is dropped and counted.
type Dispatcher struct {
	notifier Notifier
	metrics  *metrics.Metrics
	timeout  time.Duration

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewDispatcher(notifier Notifier, queueSize int, m *metrics.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		notifier: notifier,
		metrics:  m,
		timeout:  10 * time.Second,
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Publish(evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		zap.L().Warn("Notification published after dispatcher close",
			zap.String("type", string(evt.Type)),
			zap.String("owner_id", evt.OwnerId))
		return
	}

	select {
	case d.queue <- evt:
	default:
		d.metrics.ObserveNotification(string(evt.Type), true)
		zap.L().Warn("Notification queue full, dropping event",
			zap.String("type", string(evt.Type)),
			zap.String("owner_id", evt.OwnerId))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.notifier.Notify(ctx, evt); err != nil {
			zap.L().Error("Failed to deliver notification",
				zap.String("type", string(evt.Type)),
				zap.String("owner_id", evt.OwnerId),
				zap.Error(err))
		} else {
			d.metrics.ObserveNotification(string(evt.Type), false)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	<-d.done
}

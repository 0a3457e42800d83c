// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package events is the in-process publish/subscribe bus connecting the
// control loop components to observers (journal recorder, SSE stream).
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	TypeHealthSnapshot    Type = "health.snapshot"
	TypeBreakerOpened     Type = "breaker.opened"
	TypeBreakerClosed     Type = "breaker.closed"
	TypeRecoveryCompleted Type = "recovery.completed"
	TypeTaskState         Type = "task.state"
	TypeChildState        Type = "child.state"
)

// Event is a single published occurrence. Data must be a value type or a
// copy; subscribers may read it concurrently.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ev Event)
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
	now    func() time.Time
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// Publish delivers ev to every subscriber. A zero Time is stamped with now.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("event subscriber is slow, dropping event",
				"subscriber", id,
				"event_type", ev.Type,
			)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unregisters it and closes the channel; it is safe to call more
// than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Close closes every subscriber channel. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// BreakerChange is the payload of breaker.opened and breaker.closed.
type BreakerChange struct {
	Name     string `json:"name"`
	Open     bool   `json:"open"`
	Failures int    `json:"failures"`
	Reason   string `json:"reason,omitempty"`
}

// RecoveryReport is the payload of recovery.completed.
type RecoveryReport struct {
	Attempted     int `json:"attempted"`
	Fixed         int `json:"fixed"`
	BreakersReset int `json:"breakers_reset"`
}

// TaskChange is the payload of task.state.
type TaskChange struct {
	TaskID   string `json:"task_id"`
	Type     string `json:"type"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
	Children int    `json:"children"`
	Failed   int    `json:"failed"`
}

// ChildChange is the payload of child.state.
type ChildChange struct {
	TaskID   string `json:"task_id"`
	ChildID  string `json:"child_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

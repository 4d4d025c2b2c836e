// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package observer runs the daemon's single background consumer of
// ban-lifecycle side effects — persisting bans, recording ban-time
// escalations, and notifying audit/notification hooks — off
// the per-jail worker goroutines, grounded on spec.md §4.H and the
// ticker+channel idiom of internal/sentinel/service.go's analysisLoop.
package observer

import (
	"context"
	"sync"

	"greywall.dev/jaild/internal/logging"
)

var log = logging.WithComponent("observer")

// Opcode identifies the kind of event queued to the observer.
type Opcode int

const (
	OpPersistBan Opcode = iota
	OpPersistUnban
	OpBanTimeIncrement
	OpNotifyFailure
)

// Event is one item of observer work.
type Event struct {
	Op   Opcode
	Args map[string]any
}

// Handler processes one Event. Handlers run on the observer's single
// consumer goroutine, so they must not block indefinitely.
type Handler func(ctx context.Context, ev Event)

// Observer is a single-consumer worker draining a buffered channel of
// events so producers (jail goroutines) never block on side effects
// like store writes or audit logging.
type Observer struct {
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan Event
	done   chan struct{}

	mu       sync.RWMutex
	handlers map[Opcode][]Handler
}

// New returns an Observer with a queue capacity of backlog events.
func New(backlog int) *Observer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Observer{
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan Event, backlog),
		done:     make(chan struct{}),
		handlers: make(map[Opcode][]Handler),
	}
}

// On registers handler to be called for every Event with the given
// opcode, in registration order.
func (o *Observer) On(op Opcode, handler Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[op] = append(o.handlers[op], handler)
}

// Start launches the consumer goroutine.
func (o *Observer) Start() {
	log.Info("starting observer")
	go o.loop()
}

// Stop requests the consumer goroutine to drain and exit, blocking
// until it has.
func (o *Observer) Stop(ctx context.Context) error {
	o.cancel()
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit enqueues ev without blocking the caller on handler execution.
// If the queue is full, the event is dropped and logged — producers
// must never block on the observer.
func (o *Observer) Emit(ev Event) {
	select {
	case o.queue <- ev:
	default:
		log.Warn("observer queue full, dropping event", "opcode", ev.Op)
	}
}

func (o *Observer) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			o.drain()
			return
		case ev := <-o.queue:
			o.dispatch(ev)
		}
	}
}

func (o *Observer) drain() {
	for {
		select {
		case ev := <-o.queue:
			o.dispatch(ev)
		default:
			return
		}
	}
}

func (o *Observer) dispatch(ev Event) {
	o.mu.RLock()
	handlers := append([]Handler(nil), o.handlers[ev.Op]...)
	o.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("observer handler panicked", "opcode", ev.Op, "panic", r)
				}
			}()
			h(o.ctx, ev)
		}()
	}
}

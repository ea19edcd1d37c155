/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package telemetry delivers analytics events without ever blocking or failing the caller.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hyperledger/aries-framework-go/component/log"
)

var logger = log.New("proving-agent/telemetry")

const defaultBuffer = 64

// Sink records named events.
type Sink interface {
	Track(name string, props map[string]interface{})
}

// Nop discards events.
type Nop struct{}

// Track does nothing.
func (Nop) Track(string, map[string]interface{}) {}

// LogSink writes events to the module logger.
type LogSink struct{}

// Track logs the event at debug level.
func (LogSink) Track(name string, props map[string]interface{}) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%v", k, props[k])
	}

	logger.Debugf("event %s %s", name, strings.Join(pairs, " "))
}

type event struct {
	name  string
	props map[string]interface{}
}

// Async forwards events to a sink from a background goroutine.
type Async struct {
	sink   Sink
	events chan event
	done   chan struct{}

	dropped int64

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts delivering to sink. Events are dropped while buffer events are pending.
func NewAsync(sink Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	a := &Async{
		sink:   sink,
		events: make(chan event, buffer),
		done:   make(chan struct{}),
	}

	go a.run()

	return a
}

func (a *Async) run() {
	defer close(a.done)

	for e := range a.events {
		a.deliver(e)
	}
}

func (a *Async) deliver(e event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("telemetry sink panicked on %s: %v", e.name, r)
		}
	}()

	a.sink.Track(e.name, e.props)
}

// Track queues an event, dropping it when the queue is full or the sink closed.
func (a *Async) Track(name string, props map[string]interface{}) {
	cp := make(map[string]interface{}, len(props))
	for k, v := range props {
		cp[k] = v
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return
	}

	select {
	case a.events <- event{name: name, props: cp}:
	default:
		atomic.AddInt64(&a.dropped, 1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (a *Async) Dropped() int64 {
	return atomic.LoadInt64(&a.dropped)
}

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()

		return
	}

	a.closed = true
	close(a.events)
	a.mu.Unlock()

	<-a.done
}

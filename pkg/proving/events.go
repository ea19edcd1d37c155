/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proving

import (
	"errors"
	"sync"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/proving/state"
)

// ErrNilChannel is returned when a nil channel is registered.
var ErrNilChannel = errors.New("channel is nil")

// StateMsg is published on every state entry of a session.
type StateMsg struct {
	// Session numbers the sessions of a Service, starting at 1.
	Session     uint64
	CircuitType circuit.Type
	StateID     state.State
	// Err is set when StateID is error or failure.
	Err     *Error
	Failure *Failure
}

// LifecycleEvent is an outcome the application reacts to.
type LifecycleEvent string

// Lifecycle events.
const (
	PassportNotSupported    LifecycleEvent = "PASSPORT_NOT_SUPPORTED"
	AccountRecoveryRequired LifecycleEvent = "ACCOUNT_RECOVERY_REQUIRED"
	AccountVerified         LifecycleEvent = "ACCOUNT_VERIFIED"
	PassportDataNotFound    LifecycleEvent = "PASSPORT_DATA_NOT_FOUND"
)

// App receives session outcomes. Callbacks run after the session loop has exited and may call Init or Close.
type App interface {
	OnLifecycleEvent(e LifecycleEvent)
	// OnDiscloseResult reports the outcome of a disclose proof.
	OnDiscloseResult(ok bool, reason string)
}

type nopApp struct{}

func (nopApp) OnLifecycleEvent(LifecycleEvent) {}

func (nopApp) OnDiscloseResult(bool, string) {}

type message struct {
	mu     sync.RWMutex
	events []chan<- StateMsg
}

func (m *message) msgEvents() []chan<- StateMsg {
	m.mu.RLock()
	events := append(m.events[:0:0], m.events...)
	m.mu.RUnlock()

	return events
}

// RegisterMsgEvent registers ch for state messages. Sends block until received or the session ends.
func (m *message) RegisterMsgEvent(ch chan<- StateMsg) error {
	if ch == nil {
		return ErrNilChannel
	}

	m.mu.Lock()
	m.events = append(m.events, ch)
	m.mu.Unlock()

	return nil
}

// UnregisterMsgEvent removes ch. Refer RegisterMsgEvent().
func (m *message) UnregisterMsgEvent(ch chan<- StateMsg) error {
	m.mu.Lock()
	for i := 0; i < len(m.events); i++ {
		if m.events[i] == ch {
			m.events = append(m.events[:i], m.events[i+1:]...)
			i--
		}
	}
	m.mu.Unlock()

	return nil
}

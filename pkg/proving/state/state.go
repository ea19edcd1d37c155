/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package state is the proving session state machine: a closed set of states, the events that move
// between them and a pure transition table.
package state

import (
	"errors"
	"fmt"
)

// State of a proving session.
type State string

// Session states.
const (
	Idle                  State = "idle"
	ParsingIDDocument     State = "parsing_id_document"
	FetchingData          State = "fetching_data"
	ValidatingDocument    State = "validating_document"
	InitTEEConnexion      State = "init_tee_connexion"
	ReadyToProve          State = "ready_to_prove"
	Proving               State = "proving"
	PostProving           State = "post_proving"
	Completed             State = "completed"
	Error                 State = "error"
	Failure               State = "failure"
	PassportNotSupported  State = "passport_not_supported"
	AccountRecoveryChoice State = "account_recovery_choice"
	PassportDataNotFound  State = "passport_data_not_found"
)

// Terminal reports whether the session ends in s.
func (s State) Terminal() bool {
	switch s {
	case Completed, Error, Failure, PassportNotSupported, AccountRecoveryChoice, PassportDataNotFound:
		return true
	default:
		return false
	}
}

// Event moves a session between states.
type Event string

// Session events.
const (
	ParseIDDocument   Event = "PARSE_ID_DOCUMENT"
	FetchData         Event = "FETCH_DATA"
	InitError         Event = "ERROR"
	ParseSuccess      Event = "PARSE_SUCCESS"
	ParseError        Event = "PARSE_ERROR"
	FetchSuccess      Event = "FETCH_SUCCESS"
	FetchError        Event = "FETCH_ERROR"
	ValidationSuccess Event = "VALIDATION_SUCCESS"
	ValidationError   Event = "VALIDATION_ERROR"
	AlreadyRegistered Event = "VALIDATION_ALREADY_REGISTERED"
	NotSupported      Event = "PASSPORT_NOT_SUPPORTED"
	AccountRecovery   Event = "ACCOUNT_RECOVERY_CHOICE"
	DataNotFound      Event = "PASSPORT_DATA_NOT_FOUND"
	ConnectSuccess    Event = "CONNECT_SUCCESS"
	ConnectError      Event = "CONNECT_ERROR"
	StartProving      Event = "START_PROVING"
	ProveSuccess      Event = "PROVE_SUCCESS"
	ProveError        Event = "PROVE_ERROR"
	ProveFailure      Event = "PROVE_FAILURE"
	SwitchToRegister  Event = "SWITCH_TO_REGISTER"
	CompletedEvent    Event = "COMPLETED"
)

// ErrInvalidTransition is returned for an event the current state does not accept.
var ErrInvalidTransition = errors.New("invalid state transition")

// nolint:gochecknoglobals
var transitions = map[State]map[Event]State{
	Idle: {
		ParseIDDocument: ParsingIDDocument,
		FetchData:       FetchingData,
		InitError:       Error,
		DataNotFound:    PassportDataNotFound,
	},
	ParsingIDDocument: {
		ParseSuccess: FetchingData,
		ParseError:   Error,
	},
	FetchingData: {
		FetchSuccess: ValidatingDocument,
		FetchError:   Error,
	},
	ValidatingDocument: {
		ValidationSuccess: InitTEEConnexion,
		ValidationError:   Error,
		AlreadyRegistered: Completed,
		NotSupported:      PassportNotSupported,
		AccountRecovery:   AccountRecoveryChoice,
		DataNotFound:      PassportDataNotFound,
	},
	InitTEEConnexion: {
		ConnectSuccess: ReadyToProve,
		ConnectError:   Error,
	},
	ReadyToProve: {
		StartProving: Proving,
		ProveError:   Error,
	},
	Proving: {
		ProveSuccess: PostProving,
		ProveError:   Error,
		ProveFailure: Failure,
	},
	PostProving: {
		SwitchToRegister: FetchingData,
		CompletedEvent:   Completed,
	},
}

// States lists every state.
func States() []State {
	return []State{
		Idle, ParsingIDDocument, FetchingData, ValidatingDocument, InitTEEConnexion, ReadyToProve, Proving,
		PostProving, Completed, Error, Failure, PassportNotSupported, AccountRecoveryChoice, PassportDataNotFound,
	}
}

// Events lists every event.
func Events() []Event {
	return []Event{
		ParseIDDocument, FetchData, InitError, ParseSuccess, ParseError, FetchSuccess, FetchError,
		ValidationSuccess, ValidationError, AlreadyRegistered, NotSupported, AccountRecovery, DataNotFound,
		ConnectSuccess, ConnectError, StartProving, ProveSuccess, ProveError, ProveFailure, SwitchToRegister,
		CompletedEvent,
	}
}

// Transition returns the state s moves to on e.
func Transition(s State, e Event) (State, bool) {
	next, ok := transitions[s][e]

	return next, ok
}

// CanTransitionTo reports whether some event moves s to next.
func (s State) CanTransitionTo(next State) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}

	return false
}

// Machine holds the current state of one session.
type Machine struct {
	current State
}

// NewMachine returns a machine in Idle.
func NewMachine() *Machine {
	return &Machine{current: Idle}
}

// Current state.
func (m *Machine) Current() State {
	return m.current
}

// Fire applies e. The state is unchanged when e is not accepted.
func (m *Machine) Fire(e Event) (State, error) {
	next, ok := Transition(m.current, e)
	if !ok {
		return m.current, fmt.Errorf("%w: %s does not accept %s", ErrInvalidTransition, m.current, e)
	}

	m.current = next

	return next, nil
}

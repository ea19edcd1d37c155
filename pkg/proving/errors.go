/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proving

import (
	"errors"
	"fmt"
)

// Kind classifies why a session ended in the error or failure state.
type Kind int

// Error kinds.
const (
	ParseFailure Kind = iota + 1
	FetchFailure
	ValidationFailure
	ConnectionFailure
	PayloadGenerationFailure
	// ProveFailure means the prover rejected the proof. It is terminal.
	ProveFailure
	// ProveError is a protocol or transport hiccup while proving. A new Init may succeed.
	ProveError
)

func (k Kind) String() string {
	switch k {
	case ParseFailure:
		return "ParseFailure"
	case FetchFailure:
		return "FetchFailure"
	case ValidationFailure:
		return "ValidationFailure"
	case ConnectionFailure:
		return "ConnectionFailure"
	case PayloadGenerationFailure:
		return "PayloadGenerationFailure"
	case ProveFailure:
		return "ProveFailure"
	case ProveError:
		return "ProveError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Retryable reports whether calling Init again may succeed.
func (k Kind) Retryable() bool {
	return k != ProveFailure
}

// Error is the cause of a session ending in error or failure.
type Error struct {
	Kind Kind
	Err  error
}

func newError(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Failure is the prover's reason for rejecting a proof.
type Failure struct {
	ErrorCode string
	Reason    string
}

var (
	// ErrNoSession is returned when no session is live.
	ErrNoSession = errors.New("no proving session")
	// ErrNoSecret is returned when the key provider has no holder secret.
	ErrNoSecret = errors.New("no holder secret available")
	// ErrSessionIDMismatch is returned when the prover acknowledges a submission for another session.
	ErrSessionIDMismatch = errors.New("prover echoed a different session id")
	// ErrTimeout is returned when the prover does not answer in time.
	ErrTimeout = errors.New("timed out waiting for the prover")
)

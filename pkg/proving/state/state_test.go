/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdle(t *testing.T) {
	require.False(t, Idle.Terminal())
	require.True(t, Idle.CanTransitionTo(ParsingIDDocument))
	require.True(t, Idle.CanTransitionTo(FetchingData))
	require.True(t, Idle.CanTransitionTo(Error))
	require.True(t, Idle.CanTransitionTo(PassportDataNotFound))
	require.False(t, Idle.CanTransitionTo(Proving))
	require.False(t, Idle.CanTransitionTo(Completed))
}

func TestValidatingDocument(t *testing.T) {
	for _, next := range []State{
		InitTEEConnexion, Error, Completed, PassportNotSupported, AccountRecoveryChoice, PassportDataNotFound,
	} {
		require.True(t, ValidatingDocument.CanTransitionTo(next), next)
	}

	require.False(t, ValidatingDocument.CanTransitionTo(ReadyToProve))
	require.False(t, ValidatingDocument.CanTransitionTo(Proving))
}

func TestProving(t *testing.T) {
	require.True(t, Proving.CanTransitionTo(PostProving))
	require.True(t, Proving.CanTransitionTo(Error))
	require.True(t, Proving.CanTransitionTo(Failure))
	require.False(t, Proving.CanTransitionTo(Completed))
}

func TestPostProving(t *testing.T) {
	require.True(t, PostProving.CanTransitionTo(FetchingData))
	require.True(t, PostProving.CanTransitionTo(Completed))
	require.False(t, PostProving.CanTransitionTo(Error))
}

func TestTerminalStates(t *testing.T) {
	for _, s := range States() {
		if !s.Terminal() {
			continue
		}

		for _, e := range Events() {
			_, ok := Transition(s, e)
			require.False(t, ok, "%s accepts %s", s, e)
		}
	}
}

func TestProvingOnlyFromReadyToProve(t *testing.T) {
	for _, s := range States() {
		for _, e := range Events() {
			next, ok := Transition(s, e)
			if ok && next == Proving {
				require.Equal(t, ReadyToProve, s)
				require.Equal(t, StartProving, e)
			}

			if ok && next == ReadyToProve {
				require.Equal(t, InitTEEConnexion, s)
				require.Equal(t, ConnectSuccess, e)
			}
		}
	}
}

func TestEveryStateReachable(t *testing.T) {
	seen := map[State]bool{Idle: true}
	queue := []State{Idle}

	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]

		for _, e := range Events() {
			if next, ok := Transition(s, e); ok && !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	require.Len(t, seen, len(States()))
}

func TestMachine(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		m := NewMachine()
		require.Equal(t, Idle, m.Current())

		for _, e := range []Event{
			ParseIDDocument, ParseSuccess, FetchSuccess, ValidationSuccess, ConnectSuccess, StartProving,
			ProveSuccess, CompletedEvent,
		} {
			_, err := m.Fire(e)
			require.NoError(t, err, e)
		}

		require.Equal(t, Completed, m.Current())
	})

	t.Run("rejected event keeps state", func(t *testing.T) {
		m := NewMachine()

		_, err := m.Fire(FetchData)
		require.NoError(t, err)

		s, err := m.Fire(StartProving)
		require.ErrorIs(t, err, ErrInvalidTransition)
		require.Equal(t, FetchingData, s)
		require.Equal(t, FetchingData, m.Current())
	})
}

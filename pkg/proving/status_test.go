/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proving

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusOutcome(t *testing.T) {
	expected := map[int]Outcome{
		StatusQueued:         OutcomeInProgress,
		StatusInProgress:     OutcomeInProgress,
		StatusProofGenerated: OutcomeInProgress,
		StatusFailure:        OutcomeFailure,
		StatusSuccess:        OutcomeSuccess,
		StatusError:          OutcomeRetryable,
	}

	for code, outcome := range expected {
		require.Equal(t, outcome, StatusOutcome(code), code)
	}

	for _, code := range []int{-1, 6, 42} {
		require.Equal(t, OutcomeMalformed, StatusOutcome(code), code)
	}

	// same answer whatever came before.
	for i := 0; i < 3; i++ {
		require.Equal(t, OutcomeFailure, StatusOutcome(StatusFailure))
		require.Equal(t, OutcomeSuccess, StatusOutcome(StatusSuccess))
	}
}

func TestDecodeStatus(t *testing.T) {
	t.Run("full event", func(t *testing.T) {
		ev, err := decodeStatus([]byte(`{"status":3,"error_code":"E001","reason":"bad proof","extra":true}`))
		require.NoError(t, err)
		require.Equal(t, &StatusEvent{Status: 3, ErrorCode: "E001", Reason: "bad proof"}, ev)
	})

	t.Run("code as string", func(t *testing.T) {
		ev, err := decodeStatus([]byte(`{"status":"4"}`))
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, ev.Status)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, raw := range []string{`"garbage"`, `{}`, `{"status":"done"}`, `[1]`, `{`} {
			_, err := decodeStatus([]byte(raw))
			require.ErrorIs(t, err, errMalformedStatus, raw)
		}
	})
}

func TestKind(t *testing.T) {
	require.Equal(t, "ConnectionFailure", ConnectionFailure.String())
	require.Equal(t, "Kind(99)", Kind(99).String())
	require.True(t, ProveError.Retryable())
	require.False(t, ProveFailure.Retryable())

	err := newError(FetchFailure, errMalformedStatus)
	require.ErrorIs(t, err, errMalformedStatus)
	require.Equal(t, "FetchFailure: malformed status event", err.Error())
}

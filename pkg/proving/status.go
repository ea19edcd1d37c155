/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proving

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Prover status codes.
const (
	StatusQueued         = 0
	StatusInProgress     = 1
	StatusProofGenerated = 2
	StatusFailure        = 3
	StatusSuccess        = 4
	StatusError          = 5
)

// Outcome of a status event.
type Outcome int

// Status outcomes.
const (
	// OutcomeMalformed is an unrecognized or undecodable status.
	OutcomeMalformed Outcome = iota
	OutcomeInProgress
	OutcomeSuccess
	// OutcomeFailure is a rejected proof. It is terminal.
	OutcomeFailure
	// OutcomeRetryable is a prover side error a new session may overcome.
	OutcomeRetryable
)

// nolint:gochecknoglobals
var statusOutcomes = map[int]Outcome{
	StatusQueued:         OutcomeInProgress,
	StatusInProgress:     OutcomeInProgress,
	StatusProofGenerated: OutcomeInProgress,
	StatusFailure:        OutcomeFailure,
	StatusSuccess:        OutcomeSuccess,
	StatusError:          OutcomeRetryable,
}

// StatusOutcome maps a status code to its outcome.
func StatusOutcome(code int) Outcome {
	if o, ok := statusOutcomes[code]; ok {
		return o
	}

	return OutcomeMalformed
}

// StatusEvent is a prover status notification.
type StatusEvent struct {
	Status    int    `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

var errMalformedStatus = errors.New("malformed status event")

// decodeStatus decodes the status payload. Codes sent as strings are accepted.
func decodeStatus(raw json.RawMessage) (*StatusEvent, error) {
	var fields map[string]interface{}

	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedStatus, err)
	}

	if _, ok := fields["status"]; !ok {
		return nil, fmt.Errorf("%w: no status code", errMalformedStatus)
	}

	ev := &StatusEvent{}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           ev,
	})
	if err != nil {
		return nil, err
	}

	if err := dec.Decode(fields); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedStatus, err)
	}

	return ev, nil
}

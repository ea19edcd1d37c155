/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JSON-RPC methods and request ids of the prover protocol.
const (
	JSONRPCVersion = "2.0"
	MethodHello    = "hello"
	MethodSubmit   = "submit"
	HelloID        = 1
	SubmitID       = 2
)

// ErrMalformedResponse is returned for prover messages that match no known shape.
var ErrMalformedResponse = errors.New("malformed prover response")

// Bytes is a byte slice carried as a JSON array of numbers.
type Bytes []byte

// MarshalJSON encodes b as a number array.
func (b Bytes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('[')

	for i, v := range b {
		if i > 0 {
			buf.WriteByte(',')
		}

		fmt.Fprintf(&buf, "%d", v)
	}

	buf.WriteByte(']')

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a number array.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var ints []int

	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("decode byte array: %w", err)
	}

	out := make([]byte, len(ints))

	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d out of range", v)
		}

		out[i] = byte(v)
	}

	*b = out

	return nil
}

// Request is a client to prover JSON-RPC request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	ID      int         `json:"id"`
	Params  interface{} `json:"params"`
}

// HelloParams opens the handshake.
type HelloParams struct {
	UserPubkey Bytes  `json:"user_pubkey"`
	UUID       string `json:"uuid"`
}

// SubmitParams carries the encrypted circuit request.
type SubmitParams struct {
	UUID       string `json:"uuid"`
	Nonce      Bytes  `json:"nonce"`
	CipherText Bytes  `json:"cipher_text"`
	AuthTag    Bytes  `json:"auth_tag"`
}

// NewHello returns the hello request.
func NewHello(sessionID string, pubKey []byte) *Request {
	return &Request{
		JSONRPC: JSONRPCVersion,
		Method:  MethodHello,
		ID:      HelloID,
		Params:  HelloParams{UserPubkey: pubKey, UUID: sessionID},
	}
}

// NewSubmit returns the submit request for an encrypted payload.
func NewSubmit(sessionID string, enc *Encrypted) *Request {
	return &Request{
		JSONRPC: JSONRPCVersion,
		Method:  MethodSubmit,
		ID:      SubmitID,
		Params: SubmitParams{
			UUID:       sessionID,
			Nonce:      enc.Nonce,
			CipherText: enc.CipherText,
			AuthTag:    enc.AuthTag,
		},
	}
}

// ResponseKind classifies prover messages.
type ResponseKind int

// Prover message kinds.
const (
	ResponseUnknown ResponseKind = iota
	ResponseError
	ResponseAttestation
	ResponseAck
)

// Response is a prover message.
type Response struct {
	Kind           ResponseKind
	ID             int
	Attestation    []byte
	SubscriptionID string
	Error          string
}

type rawResponse struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type attestationResult struct {
	Attestation Bytes `json:"attestation"`
}

// ParseResponse classifies and decodes a prover message.
func ParseResponse(data []byte) (*Response, error) {
	raw := rawResponse{}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	resp := &Response{}
	if raw.ID != nil {
		resp.ID = *raw.ID
	}

	if isSet(raw.Error) {
		resp.Kind = ResponseError
		resp.Error = errorMessage(raw.Error)

		return resp, nil
	}

	if !isSet(raw.Result) {
		return nil, fmt.Errorf("%w: no result", ErrMalformedResponse)
	}

	if resp.ID == SubmitID {
		var sub string
		if err := json.Unmarshal(raw.Result, &sub); err == nil {
			resp.Kind = ResponseAck
			resp.SubscriptionID = sub

			return resp, nil
		}
	}

	att := attestationResult{}
	if err := json.Unmarshal(raw.Result, &att); err == nil && len(att.Attestation) > 0 {
		resp.Kind = ResponseAttestation
		resp.Attestation = att.Attestation

		return resp, nil
	}

	return nil, fmt.Errorf("%w: unexpected result %s", ErrMalformedResponse, truncate(string(raw.Result)))
}

func isSet(m json.RawMessage) bool {
	return len(m) > 0 && !bytes.Equal(bytes.TrimSpace(m), []byte("null"))
}

func errorMessage(m json.RawMessage) string {
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}

	obj := struct {
		Message string `json:"message"`
	}{}
	if err := json.Unmarshal(m, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}

	return truncate(string(m))
}

func truncate(s string) string {
	const limit = 128

	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit] + "..."
	}

	return s
}

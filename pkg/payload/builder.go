/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package payload builds circuit requests and carries them to the prover: circuit input generation,
// the JSON-RPC messages of the prover protocol and the AES-GCM codec sealing submissions.
package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/protocol"
)

// ErrNoEndpoint is returned when the circuit DNS mapping has no prover URL for the circuit.
var ErrNoEndpoint = errors.New("No WebSocket URL available for TEE connection") // nolint:stylecheck

// EndpointKind tells the prover where the proof is verified.
type EndpointKind string

// Endpoint kinds.
const (
	Celo         EndpointKind = "celo"
	HTTPS        EndpointKind = "https"
	StagingCelo  EndpointKind = "staging_celo"
	StagingHTTPS EndpointKind = "staging_https"
)

// Staging reports whether the kind targets the staging deployment.
func (k EndpointKind) Staging() bool {
	return strings.HasPrefix(string(k), "staging_")
}

// OnChain reports whether the proof is verified by a contract.
func (k EndpointKind) OnChain() bool {
	return k == Celo || k == StagingCelo
}

// Attribute is a document attribute a disclosure may reveal.
type Attribute string

// Disclosable attributes.
const (
	IssuingState   Attribute = "issuing_state"
	Name           Attribute = "name"
	DocumentNumber Attribute = "passport_number"
	Nationality    Attribute = "nationality"
	DateOfBirth    Attribute = "date_of_birth"
	Gender         Attribute = "gender"
	ExpiryDate     Attribute = "expiry_date"
)

// DisclosureRequest holds the verifier's parameters of a disclose proof.
type DisclosureRequest struct {
	Scope             string       `json:"scope"`
	Endpoint          string       `json:"endpoint"`
	EndpointType      EndpointKind `json:"endpointType"`
	UserID            string       `json:"userId"`
	UserDefinedData   string       `json:"userDefinedData,omitempty"`
	Version           int          `json:"version"`
	MinimumAge        int          `json:"minimumAge,omitempty"`
	ExcludedCountries []string     `json:"excludedCountries,omitempty"`
	OFAC              bool         `json:"ofac,omitempty"`
	Disclose          []Attribute  `json:"disclose,omitempty"`
}

// CircuitRequest is everything the prover needs for one proof.
type CircuitRequest struct {
	Type          circuit.Type
	WireCircuitID string
	CircuitName   string
	EndpointKind  EndpointKind
	EndpointURL   string
	Version       int
	UserData      string
	Inputs        map[string]interface{}
}

type circuitPayload struct {
	Name   string `json:"name"`
	Inputs string `json:"inputs"`
}

type wirePayload struct {
	Type            string         `json:"type"`
	OnChain         bool           `json:"onchain"`
	EndpointType    EndpointKind   `json:"endpointType"`
	Endpoint        string         `json:"endpoint,omitempty"`
	Version         int            `json:"version,omitempty"`
	UserDefinedData string         `json:"userDefinedData,omitempty"`
	Circuit         circuitPayload `json:"circuit"`
}

// Payload serializes the request into the plaintext that is sealed and submitted.
func (r *CircuitRequest) Payload() ([]byte, error) {
	inputs, err := json.Marshal(r.Inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal circuit inputs: %w", err)
	}

	p := wirePayload{
		Type:         r.WireCircuitID,
		OnChain:      true,
		EndpointType: r.EndpointKind,
		Circuit:      circuitPayload{Name: r.CircuitName, Inputs: string(inputs)},
	}

	if r.Type == circuit.Disclose {
		p.OnChain = r.EndpointKind.OnChain()
		p.Endpoint = r.EndpointURL
		p.Version = r.Version
		p.UserDefinedData = r.UserData
	}

	return json.Marshal(p)
}

// ResolveEndpoint returns the prover WebSocket URL serving circuit t for doc.
func ResolveEndpoint(data *protocol.Data, t circuit.Type, doc *document.Document) (string, error) {
	name, err := circuit.Name(t, doc)
	if err != nil {
		return "", err
	}

	url, ok := data.Endpoint(t, doc.Category, name)
	if !ok {
		return "", fmt.Errorf("%w: %s %s", ErrNoEndpoint, circuit.MappingKey(t, doc.Category), name)
	}

	return url, nil
}

// Builder produces circuit requests.
type Builder struct {
	generators map[generatorKey]Generator
}

// NewBuilder returns a builder with the generators of every supported circuit and category.
func NewBuilder() *Builder {
	return &Builder{generators: defaultGenerators()}
}

// Build generates the circuit request of type t for the input's document.
func (b *Builder) Build(ctx context.Context, t circuit.Type, in *Input) (*CircuitRequest, error) {
	doc := in.Document

	gen, ok := b.generators[generatorKey{t: t, c: doc.Category}]
	if !ok {
		return nil, fmt.Errorf("%w: no input generator for %s/%s", circuit.ErrUnknownType, t, doc.Category)
	}

	if t == circuit.Disclose && in.Disclosure == nil {
		return nil, errors.New("disclosure request is mandatory for disclose proofs")
	}

	name, err := circuit.Name(t, doc)
	if err != nil {
		return nil, err
	}

	inputs, err := gen(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("generate %s inputs: %w", name, err)
	}

	req := &CircuitRequest{
		Type:          t,
		WireCircuitID: circuit.WireID(t, doc.Category),
		CircuitName:   name,
		EndpointKind:  Celo,
		Inputs:        inputs,
	}

	if in.Data != nil && in.Data.Environment == protocol.Staging {
		req.EndpointKind = StagingCelo
	}

	if t == circuit.Disclose {
		req.EndpointKind = in.Disclosure.EndpointType
		req.EndpointURL = in.Disclosure.Endpoint
		req.Version = in.Disclosure.Version
		req.UserData = in.Disclosure.UserDefinedData
	}

	return req, nil
}

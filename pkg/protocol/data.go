/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package protocol holds the read-only protocol data a proving session needs for one document category:
// signer certificate trees, the identity commitment tree, sanction trees and the circuit deployment metadata.
package protocol

import (
	"fmt"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/document"
)

// Environment selects the deployment a session proves against.
type Environment string

const (
	// Staging accepts mock documents.
	Staging Environment = "staging"
	// Production accepts real documents.
	Production Environment = "production"
)

// EnvironmentFor returns the environment of a document.
func EnvironmentFor(doc *document.Document) Environment {
	if doc.Mock {
		return Staging
	}

	return Production
}

// OFACTrees are the sanction list trees used by disclosure proofs.
type OFACTrees struct {
	PassportNoAndNationality *Tree
	NameAndDOB               *Tree
	NameAndYOB               *Tree
}

// Data is the protocol snapshot of one environment and document category.
type Data struct {
	Environment Environment
	Category    document.Category

	DSCTree        *Tree
	CSCATree       *Tree
	CommitmentTree *Tree
	OFAC           *OFACTrees

	// DeployedCircuits lists circuit names per mapping key (e.g. REGISTER_ID).
	DeployedCircuits map[string][]string
	// DNSMapping resolves mapping key and circuit name to the prover WebSocket URL.
	DNSMapping map[string]map[string]string
	// AlternativeCSCA maps CSCA ids to PEM certificates the document may have been registered under.
	AlternativeCSCA map[string]string
}

// IsDeployed reports whether the named circuit of type t is deployed for category c.
func (d *Data) IsDeployed(t circuit.Type, c document.Category, name string) bool {
	for _, n := range d.DeployedCircuits[circuit.MappingKey(t, c)] {
		if n == name {
			return true
		}
	}

	return false
}

// Endpoint returns the prover URL of the named circuit.
func (d *Data) Endpoint(t circuit.Type, c document.Category, name string) (string, bool) {
	url, ok := d.DNSMapping[circuit.MappingKey(t, c)][name]

	return url, ok && url != ""
}

func storeKey(env Environment, c document.Category) string {
	return fmt.Sprintf("%s/%s", env, c)
}

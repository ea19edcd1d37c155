/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package commitment computes the Poseidon field elements that bind a holder secret to a document:
// the identity commitment enrolled in the commitment tree, the document nullifier and certificate leaves.
package commitment

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/document"
)

// ErrInvalidSecret is returned when the holder secret is not a hex encoded integer.
var ErrInvalidSecret = errors.New("invalid holder secret")

// Secret converts the hex encoded holder secret into a field element.
func Secret(secret []byte) (*big.Int, error) {
	s := strings.TrimPrefix(strings.TrimSpace(string(secret)), "0x")
	if s == "" {
		return nil, ErrInvalidSecret
	}

	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, ErrInvalidSecret
	}

	return v.Mod(v, constants.Q), nil
}

// HashBytes hashes arbitrary bytes into a field element.
func HashBytes(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return big.NewInt(0), nil
	}

	return poseidon.HashBytes(b)
}

// CertificateLeaf is the tree leaf of a PEM encoded certificate. An empty certificate hashes to zero.
func CertificateLeaf(pemData string) (*big.Int, error) {
	if pemData == "" {
		return big.NewInt(0), nil
	}

	der, err := document.CertificateDER(pemData)
	if err != nil {
		return nil, err
	}

	return HashBytes(der)
}

// Commitment is the identity commitment of doc for secret, computed against the given CSCA certificate.
func Commitment(secret []byte, doc *document.Document, cscaPEM string) (*big.Int, error) {
	s, err := Secret(secret)
	if err != nil {
		return nil, err
	}

	attID, err := circuit.Attestation(doc.Category)
	if err != nil {
		return nil, err
	}

	dg1, err := HashBytes(doc.DG1)
	if err != nil {
		return nil, fmt.Errorf("hash dg1: %w", err)
	}

	eContent, err := HashBytes(doc.EContent)
	if err != nil {
		return nil, fmt.Errorf("hash eContent: %w", err)
	}

	dscLeaf, err := CertificateLeaf(doc.DSC)
	if err != nil {
		return nil, fmt.Errorf("dsc leaf: %w", err)
	}

	cscaLeaf, err := CertificateLeaf(cscaPEM)
	if err != nil {
		return nil, fmt.Errorf("csca leaf: %w", err)
	}

	return poseidon.Hash([]*big.Int{s, big.NewInt(int64(attID)), dg1, eContent, dscLeaf, cscaLeaf})
}

// Nullifier is the secret independent value that marks doc as used once registered.
func Nullifier(doc *document.Document) (*big.Int, error) {
	attID, err := circuit.Attestation(doc.Category)
	if err != nil {
		return nil, err
	}

	dg1, err := HashBytes(doc.DG1)
	if err != nil {
		return nil, fmt.Errorf("hash dg1: %w", err)
	}

	eContent, err := HashBytes(doc.EContent)
	if err != nil {
		return nil, fmt.Errorf("hash eContent: %w", err)
	}

	return poseidon.Hash([]*big.Int{big.NewInt(int64(attID)), dg1, eContent})
}

// Key hashes a sanction-list lookup key, e.g. document number and nationality.
func Key(parts ...string) (*big.Int, error) {
	return HashBytes([]byte(strings.Join(parts, "")))
}

/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package circuit names the proving circuits and maps a (circuit type, document) pair to the identifiers
// the prover, the circuit DNS mapping and the deployed-circuit metadata use.
package circuit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/idproof/proving-agent/pkg/document"
)

// Type of circuit proven in one session.
type Type string

const (
	// Register proves the document and enrolls the holder commitment.
	Register Type = "register"
	// DSC proves the document signer certificate was issued by a known CSCA.
	DSC Type = "dsc"
	// Disclose proves a claim about an already registered document.
	Disclose Type = "disclose"
)

// AttestationID identifies the document category inside circuits and contracts.
type AttestationID int

// Attestation ids.
const (
	PassportAttestation AttestationID = 1
	IDCardAttestation   AttestationID = 2
	AadhaarAttestation  AttestationID = 3
)

var (
	// ErrUnknownType is returned for a circuit type outside Register, DSC and Disclose.
	ErrUnknownType = errors.New("unknown circuit type")
	// ErrUnknownCircuitName is returned when the document metadata does not select a circuit.
	ErrUnknownCircuitName = errors.New("could not determine circuit name")
)

// ParseType returns the circuit type matching name.
func ParseType(name string) (Type, error) {
	switch t := Type(name); t {
	case Register, DSC, Disclose:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

// Attestation returns the attestation id of a document category.
func Attestation(c document.Category) (AttestationID, error) {
	switch c {
	case document.Passport:
		return PassportAttestation, nil
	case document.IDCard:
		return IDCardAttestation, nil
	case document.Aadhaar:
		return AadhaarAttestation, nil
	default:
		return 0, fmt.Errorf("%w: %q", document.ErrUnknownCategory, c)
	}
}

// WireID is the circuit identifier sent to the prover, e.g. register_id.
func WireID(t Type, c document.Category) string {
	switch c {
	case document.IDCard:
		return string(t) + "_id"
	case document.Aadhaar:
		return string(t) + "_aadhaar"
	default:
		return string(t)
	}
}

// MappingKey is the key of the circuit DNS mapping and deployed-circuit lists, e.g. REGISTER_ID.
func MappingKey(t Type, c document.Category) string {
	return strings.ToUpper(WireID(t, c))
}

// Name derives the circuit name proving t for doc.
func Name(t Type, doc *document.Document) (string, error) {
	switch t {
	case Register:
		return registerName(doc)
	case DSC:
		return dscName(doc)
	case Disclose:
		switch doc.Category {
		case document.Passport:
			return "vc_and_disclose", nil
		case document.IDCard:
			return "vc_and_disclose_id", nil
		case document.Aadhaar:
			return "vc_and_disclose_aadhaar", nil
		}

		return "", fmt.Errorf("%w: category %q", ErrUnknownCircuitName, doc.Category)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func registerName(doc *document.Document) (string, error) {
	if doc.Category == document.Aadhaar {
		return "register_aadhaar", nil
	}

	md := doc.Metadata
	if md == nil || md.HashFunction == "" || md.SignedAttrHash == "" || md.SignatureAlgorithm == "" ||
		md.CurveOrExponent == "" || md.KeyBits == 0 {
		return "", fmt.Errorf("%w: incomplete dsc metadata", ErrUnknownCircuitName)
	}

	prefix := "register"
	if doc.Category == document.IDCard {
		prefix = "register_id"
	}

	return join(prefix, md.HashFunction, md.SignedAttrHash, md.SignatureAlgorithm, md.CurveOrExponent,
		strconv.Itoa(md.KeyBits)), nil
}

func dscName(doc *document.Document) (string, error) {
	if doc.Category == document.Aadhaar {
		return "", fmt.Errorf("%w: aadhaar has no dsc circuit", ErrUnknownCircuitName)
	}

	md := doc.Metadata
	if md == nil || md.CSCAHashFunction == "" || md.CSCASignatureAlgorithm == "" ||
		md.CSCACurveOrExponent == "" || md.CSCAKeyBits == 0 {
		return "", fmt.Errorf("%w: incomplete csca metadata", ErrUnknownCircuitName)
	}

	prefix := "dsc"
	if doc.Category == document.IDCard {
		prefix = "dsc_id"
	}

	return join(prefix, md.CSCAHashFunction, md.CSCASignatureAlgorithm, md.CSCACurveOrExponent,
		strconv.Itoa(md.CSCAKeyBits)), nil
}

func join(parts ...string) string {
	return strings.Join(parts, "_")
}

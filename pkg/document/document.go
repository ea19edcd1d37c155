/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package document

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Category of an identity document.
type Category string

const (
	// Passport is an ICAO 9303 TD3 passport.
	Passport Category = "passport"
	// IDCard is an ICAO 9303 TD1 national identity card.
	IDCard Category = "id_card"
	// Aadhaar is an Indian Aadhaar QR record.
	Aadhaar Category = "aadhaar"
)

// ErrUnknownCategory is returned for a category outside Passport, IDCard and Aadhaar.
var ErrUnknownCategory = errors.New("unknown document category")

// ParseCategory returns the category matching name.
func ParseCategory(name string) (Category, error) {
	switch c := Category(name); c {
	case Passport, IDCard, Aadhaar:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
}

// Metadata holds the signature parameters that select a circuit for a document.
// The DSC fields describe how the document data was signed, the CSCA fields describe how the DSC was signed.
type Metadata struct {
	HashFunction       string `json:"hashFunction,omitempty"`
	SignedAttrHash     string `json:"signedAttrHash,omitempty"`
	SignatureAlgorithm string `json:"signatureAlgorithm,omitempty"`
	CurveOrExponent    string `json:"curveOrExponent,omitempty"`
	KeyBits            int    `json:"keyBits,omitempty"`

	CSCAHashFunction       string `json:"cscaHashFunction,omitempty"`
	CSCASignatureAlgorithm string `json:"cscaSignatureAlgorithm,omitempty"`
	CSCACurveOrExponent    string `json:"cscaCurveOrExponent,omitempty"`
	CSCAKeyBits            int    `json:"cscaKeyBits,omitempty"`
}

// Document is the holder's parsed identity document.
type Document struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	// Mock documents are issued by test authorities and are proven against the staging deployment.
	Mock bool `json:"mock,omitempty"`

	DG1        []byte `json:"dg1"`
	EContent   []byte `json:"eContent,omitempty"`
	SignedAttr []byte `json:"signedAttr,omitempty"`

	// DSC and CSCA are PEM encoded certificates.
	DSC  string `json:"dsc,omitempty"`
	CSCA string `json:"csca,omitempty"`
	// CSCAID is set when the document was registered under an alternative CSCA.
	CSCAID string `json:"cscaId,omitempty"`

	Metadata   *Metadata `json:"metadata,omitempty"`
	Registered bool      `json:"registered,omitempty"`
}

// Validate checks the fields every circuit needs.
func (d *Document) Validate() error {
	if d.ID == "" {
		return errors.New("document id is mandatory")
	}

	if _, err := ParseCategory(string(d.Category)); err != nil {
		return err
	}

	if len(d.DG1) == 0 {
		return errors.New("document dg1 is mandatory")
	}

	return nil
}

// Copy returns a deep copy of the document.
func (d *Document) Copy() *Document {
	c := *d
	c.DG1 = append([]byte(nil), d.DG1...)
	c.EContent = append([]byte(nil), d.EContent...)
	c.SignedAttr = append([]byte(nil), d.SignedAttr...)

	if d.Metadata != nil {
		m := *d.Metadata
		c.Metadata = &m
	}

	return &c
}

// JSONBytes marshals the document.
func (d *Document) JSONBytes() ([]byte, error) {
	return json.Marshal(d)
}

// Parse unmarshals a document and validates it.
func Parse(data []byte) (*Document, error) {
	doc := &Document{}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}

	return doc, nil
}

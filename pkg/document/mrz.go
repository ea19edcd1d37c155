/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package document

import (
	"fmt"
	"strings"
)

const (
	td3Length = 88
	td1Length = 90
)

// MRZFields are the machine readable zone fields used for sanction screening and disclosure.
type MRZFields struct {
	DocumentNumber string
	Nationality    string
	Name           string
	DateOfBirth    string // YYMMDD
	ExpiryDate     string // YYMMDD
}

// YearOfBirth returns the two digit birth year.
func (f *MRZFields) YearOfBirth() string {
	if len(f.DateOfBirth) < 2 {
		return ""
	}

	return f.DateOfBirth[:2]
}

// Fields extracts the MRZ fields from the document DG1.
// Aadhaar records carry no MRZ and return an error.
func (d *Document) Fields() (*MRZFields, error) {
	mrz := string(d.DG1)

	switch d.Category {
	case Passport:
		if len(mrz) != td3Length {
			return nil, fmt.Errorf("passport mrz must be %d characters, got %d", td3Length, len(mrz))
		}

		return &MRZFields{
			Name:           trimFiller(mrz[5:44]),
			DocumentNumber: trimFiller(mrz[44:53]),
			Nationality:    trimFiller(mrz[54:57]),
			DateOfBirth:    mrz[57:63],
			ExpiryDate:     mrz[65:71],
		}, nil
	case IDCard:
		if len(mrz) != td1Length {
			return nil, fmt.Errorf("id card mrz must be %d characters, got %d", td1Length, len(mrz))
		}

		return &MRZFields{
			DocumentNumber: trimFiller(mrz[5:14]),
			DateOfBirth:    mrz[30:36],
			ExpiryDate:     mrz[38:44],
			Nationality:    trimFiller(mrz[45:48]),
			Name:           trimFiller(mrz[60:90]),
		}, nil
	default:
		return nil, fmt.Errorf("no mrz for category %s", d.Category)
	}
}

func trimFiller(s string) string {
	return strings.TrimRight(s, "<")
}

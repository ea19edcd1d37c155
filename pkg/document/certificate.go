/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package document

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
)

// ErrMissingDSC is returned when a document without a DSC certificate is parsed.
var ErrMissingDSC = errors.New("document has no DSC certificate")

// ParseCertificate decodes a single PEM encoded X.509 certificate.
func ParseCertificate(pemData string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("unexpected PEM block type %s", block.Type)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return cert, nil
}

// CertificateDER returns the DER bytes of a PEM encoded certificate.
func CertificateDER(pemData string) ([]byte, error) {
	cert, err := ParseCertificate(pemData)
	if err != nil {
		return nil, err
	}

	return cert.Raw, nil
}

// ParseMetadata derives the DSC and CSCA signature parameters of doc from its certificates.
// Hash parameters that only the security object carries (HashFunction, SignedAttrHash) are kept as scanned.
func ParseMetadata(doc *Document) (*Metadata, error) {
	if doc.DSC == "" {
		return nil, ErrMissingDSC
	}

	dsc, err := ParseCertificate(doc.DSC)
	if err != nil {
		return nil, fmt.Errorf("dsc: %w", err)
	}

	md := &Metadata{}
	if doc.Metadata != nil {
		*md = *doc.Metadata
	}

	md.SignatureAlgorithm, md.CurveOrExponent, md.KeyBits, err = publicKeyParams(dsc.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("dsc public key: %w", err)
	}

	md.CSCAHashFunction, md.CSCASignatureAlgorithm, err = signatureParams(dsc.SignatureAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("dsc signature: %w", err)
	}

	if md.HashFunction == "" {
		md.HashFunction = md.CSCAHashFunction
	}

	if md.SignedAttrHash == "" {
		md.SignedAttrHash = md.HashFunction
	}

	if doc.CSCA != "" {
		csca, err := ParseCertificate(doc.CSCA)
		if err != nil {
			return nil, fmt.Errorf("csca: %w", err)
		}

		if err := dsc.CheckSignatureFrom(csca); err != nil {
			return nil, fmt.Errorf("dsc is not signed by csca: %w", err)
		}

		_, md.CSCACurveOrExponent, md.CSCAKeyBits, err = publicKeyParams(csca.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("csca public key: %w", err)
		}
	}

	return md, nil
}

func publicKeyParams(pub interface{}) (alg, curveOrExponent string, bits int, err error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "rsa", strconv.Itoa(k.E), k.N.BitLen(), nil
	case *ecdsa.PublicKey:
		name, ok := curveNames[k.Curve.Params().Name]
		if !ok {
			return "", "", 0, fmt.Errorf("unsupported curve %s", k.Curve.Params().Name)
		}

		return "ecdsa", name, k.Curve.Params().BitSize, nil
	default:
		return "", "", 0, fmt.Errorf("unsupported public key type %T", pub)
	}
}

func signatureParams(alg x509.SignatureAlgorithm) (hash, sig string, err error) {
	switch alg {
	case x509.SHA1WithRSA:
		return "sha1", "rsa", nil
	case x509.SHA256WithRSA:
		return "sha256", "rsa", nil
	case x509.SHA384WithRSA:
		return "sha384", "rsa", nil
	case x509.SHA512WithRSA:
		return "sha512", "rsa", nil
	case x509.SHA256WithRSAPSS:
		return "sha256", "rsapss", nil
	case x509.SHA384WithRSAPSS:
		return "sha384", "rsapss", nil
	case x509.SHA512WithRSAPSS:
		return "sha512", "rsapss", nil
	case x509.ECDSAWithSHA1:
		return "sha1", "ecdsa", nil
	case x509.ECDSAWithSHA256:
		return "sha256", "ecdsa", nil
	case x509.ECDSAWithSHA384:
		return "sha384", "ecdsa", nil
	case x509.ECDSAWithSHA512:
		return "sha512", "ecdsa", nil
	default:
		return "", "", fmt.Errorf("unsupported signature algorithm %s", alg)
	}
}

// nolint:gochecknoglobals
var curveNames = map[string]string{
	"P-224": "secp224r1",
	"P-256": "secp256r1",
	"P-384": "secp384r1",
	"P-521": "secp521r1",
}

/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package attestor issues attestation tokens signed by a throwaway certificate authority for tests.
package attestor

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// ImageDigest is the enclave image digest tokens carry by default.
const ImageDigest = "b1d2c3e4f5a60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"

// Authority signs attestation tokens with a leaf certificate chained to its root.
type Authority struct {
	root    *x509.Certificate
	leaf    *x509.Certificate
	leafKey *ecdsa.PrivateKey
}

// Token describes the claims of an issued token.
type Token struct {
	ImageDigest     string
	UserPublicKey   []byte
	ServerPublicKey []byte
	IssuedAt        time.Time
	Expiry          time.Time
}

// New creates an authority with a fresh root and leaf.
func New() (*Authority, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test attestation root"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}

	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}

	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test enclave"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}

	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, err
	}

	return &Authority{root: root, leaf: leaf, leafKey: leafKey}, nil
}

// Roots returns a pool holding the authority root.
func (a *Authority) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.root)

	return pool
}

// Sign issues a token. Zero times default to a token valid for the next ten minutes.
func (a *Authority) Sign(t Token) (string, error) {
	return a.sign(t, a.leafKey)
}

// SignWithForeignKey issues a token whose signature does not match the x5c certificate.
func (a *Authority) SignWithForeignKey(t Token) (string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", err
	}

	return a.sign(t, key)
}

func (a *Authority) sign(t Token, key *ecdsa.PrivateKey) (string, error) {
	if t.IssuedAt.IsZero() {
		t.IssuedAt = time.Now()
	}

	if t.Expiry.IsZero() {
		t.Expiry = t.IssuedAt.Add(10 * time.Minute)
	}

	if t.ImageDigest == "" {
		t.ImageDigest = ImageDigest
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("x5c", []string{
			base64.StdEncoding.EncodeToString(a.leaf.Raw),
		}))
	if err != nil {
		return "", err
	}

	custom := map[string]interface{}{
		"image_digest": t.ImageDigest,
		"eat_nonce":    []string{hex.EncodeToString(t.UserPublicKey), hex.EncodeToString(t.ServerPublicKey)},
	}

	return jwt.Signed(signer).Claims(jwt.Claims{
		Issuer:   "test-attestation",
		IssuedAt: jwt.NewNumericDate(t.IssuedAt),
		Expiry:   jwt.NewNumericDate(t.Expiry),
	}).Claims(custom).CompactSerialize()
}

/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package attestation verifies the attestation token a proving enclave sends during the handshake.
//
// The token is an ES256 JWT whose x5c header chains to a trusted root. Its claims bind the enclave image
// digest and, in eat_nonce, the client public key the enclave saw followed by the enclave's ephemeral key.
package attestation

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/hyperledger/aries-framework-go/component/log"
)

var logger = log.New("proving-agent/tee/attestation")

const defaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken is returned when the token can not be parsed or its signature does not verify.
	ErrInvalidToken = errors.New("invalid attestation token")
	// ErrExpired is returned when the token is outside its validity window.
	ErrExpired = errors.New("attestation token expired")
	// ErrImageNotAllowed is returned in production when the enclave image is not allow-listed.
	ErrImageNotAllowed = errors.New("enclave image not allowed")
	// ErrPublicKeyMismatch is returned when the token does not carry the client's own public key.
	ErrPublicKeyMismatch = errors.New("attested client public key mismatch")
)

// Claims are the attestation specific claims.
type Claims struct {
	ImageDigest string   `json:"image_digest"`
	EATNonce    []string `json:"eat_nonce"`
}

// Result of a successful verification.
type Result struct {
	ImageHash       string
	UserPublicKey   []byte
	ServerPublicKey []byte
}

// Verifier checks attestation tokens.
type Verifier struct {
	roots  *x509.CertPool
	images map[string]struct{}
	leeway time.Duration
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithRoots sets the trusted attestation roots.
func WithRoots(roots *x509.CertPool) Option {
	return func(v *Verifier) {
		v.roots = roots
	}
}

// WithAllowedImages sets the enclave image digests accepted in production.
func WithAllowedImages(digests ...string) Option {
	return func(v *Verifier) {
		for _, d := range digests {
			v.images[normalizeDigest(d)] = struct{}{}
		}
	}
}

// WithLeeway sets the tolerated clock skew.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) {
		v.leeway = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// New returns a Verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		images: make(map[string]struct{}),
		leeway: defaultLeeway,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// RootsFromPEM builds a certificate pool from PEM encoded roots.
func RootsFromPEM(pemCerts ...[]byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()

	for i, p := range pemCerts {
		if !pool.AppendCertsFromPEM(p) {
			return nil, fmt.Errorf("no certificate found in root %d", i)
		}
	}

	return pool, nil
}

// Verify checks the token signature, freshness and, in production, the enclave image.
// The image check only logs outside production.
func (v *Verifier) Verify(token []byte, production bool) (*Result, error) {
	tok, err := jwt.ParseSigned(string(token))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if len(tok.Headers) != 1 || tok.Headers[0].Algorithm != string(jose.ES256) {
		return nil, fmt.Errorf("%w: unsupported signature algorithm", ErrInvalidToken)
	}

	chains, err := tok.Headers[0].Certificates(x509.VerifyOptions{
		Roots:       v.roots,
		CurrentTime: v.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: certificate chain: %v", ErrInvalidToken, err)
	}

	std := jwt.Claims{}
	custom := Claims{}

	if err = tok.Claims(chains[0][0].PublicKey, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if std.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}

	if err = std.ValidateWithLeeway(jwt.Expected{Time: v.now()}, v.leeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExpired, err)
	}

	if err = v.checkImage(custom.ImageDigest, production); err != nil {
		return nil, err
	}

	if len(custom.EATNonce) < 2 {
		return nil, fmt.Errorf("%w: eat_nonce must hold the user and server keys", ErrInvalidToken)
	}

	userKey, err := hex.DecodeString(strings.TrimPrefix(custom.EATNonce[0], "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: user key: %v", ErrInvalidToken, err)
	}

	serverKey, err := hex.DecodeString(strings.TrimPrefix(custom.EATNonce[1], "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: server key: %v", ErrInvalidToken, err)
	}

	return &Result{
		ImageHash:       custom.ImageDigest,
		UserPublicKey:   userKey,
		ServerPublicKey: serverKey,
	}, nil
}

// CheckUserKey compares the attested client key with the client's own key.
func (r *Result) CheckUserKey(own []byte) error {
	if !bytes.Equal(r.UserPublicKey, own) {
		return ErrPublicKeyMismatch
	}

	return nil
}

func (v *Verifier) checkImage(digest string, production bool) error {
	_, ok := v.images[normalizeDigest(digest)]
	if ok {
		return nil
	}

	if production {
		return fmt.Errorf("%w: %s", ErrImageNotAllowed, digest)
	}

	logger.Infof("enclave image %s is not allow-listed, accepted outside production", digest)

	return nil
}

func normalizeDigest(d string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(d, "sha256:"), "0x"))
}

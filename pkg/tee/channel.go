/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package tee establishes the authenticated key shared with a proving enclave.
package tee

import (
	"errors"
	"fmt"

	hybrid "github.com/google/tink/go/hybrid/subtle"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/idproof/proving-agent/pkg/tee/attestation"
)

var logger = log.New("proving-agent/tee")

const (
	curveName   = "NIST_P256"
	pointFormat = "UNCOMPRESSED"

	// SharedKeySize is the size of the derived symmetric key.
	SharedKeySize = 32
)

// ErrNotEstablished is returned when the shared key is used before the handshake completed.
var ErrNotEstablished = errors.New("tee channel not established")

// KeyPair is a P-256 key agreement key pair.
type KeyPair struct {
	priv *hybrid.ECPrivateKey
}

// GenerateKeyPair creates a random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	c, err := hybrid.GetCurve(curveName)
	if err != nil {
		return nil, err
	}

	priv, err := hybrid.GenerateECDHKeyPair(c)
	if err != nil {
		return nil, fmt.Errorf("generate ecdh key pair: %w", err)
	}

	return &KeyPair{priv: priv}, nil
}

// PublicBytes returns the uncompressed public point.
func (k *KeyPair) PublicBytes() []byte {
	b, err := hybrid.PointEncode(k.priv.PublicKey.Curve, pointFormat, k.priv.PublicKey.Point)
	if err != nil {
		// a generated key is always on its curve.
		panic(err)
	}

	return b
}

// SharedSecret computes the ECDH secret with an uncompressed remote public point.
func (k *KeyPair) SharedSecret(remote []byte) ([]byte, error) {
	pt, err := hybrid.PointDecode(k.priv.PublicKey.Curve, pointFormat, remote)
	if err != nil {
		return nil, fmt.Errorf("decode remote public key: %w", err)
	}

	secret, err := hybrid.ComputeSharedSecret(pt, k.priv)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}

	if len(secret) > SharedKeySize {
		return nil, fmt.Errorf("unexpected shared secret size %d", len(secret))
	}

	key := make([]byte, SharedKeySize)
	copy(key[SharedKeySize-len(secret):], secret)

	return key, nil
}

// Verifier checks an attestation token.
type Verifier interface {
	Verify(token []byte, production bool) (*attestation.Result, error)
}

// Channel is the encryption context of one enclave connection.
// The shared key is only set once the attestation and the client key pinning both succeeded.
type Channel struct {
	local           *KeyPair
	attestation     []byte
	remotePublicKey []byte
	imageHash       string
	sharedKey       []byte
}

// NewChannel returns an unestablished channel for the local key pair.
func NewChannel(local *KeyPair) *Channel {
	return &Channel{local: local}
}

// Establish verifies the enclave attestation token and derives the shared key.
// On error the channel stays unestablished.
func (c *Channel) Establish(token []byte, v Verifier, production bool) error {
	res, err := v.Verify(token, production)
	if err != nil {
		return err
	}

	if err = res.CheckUserKey(c.local.PublicBytes()); err != nil {
		return err
	}

	key, err := c.local.SharedSecret(res.ServerPublicKey)
	if err != nil {
		return err
	}

	c.attestation = append([]byte(nil), token...)
	c.remotePublicKey = res.ServerPublicKey
	c.imageHash = res.ImageHash
	c.sharedKey = key

	logger.Debugf("tee channel established with enclave image %s", res.ImageHash)

	return nil
}

// Established reports whether the shared key was derived.
func (c *Channel) Established() bool {
	return c != nil && c.sharedKey != nil
}

// SharedKey returns the derived key.
func (c *Channel) SharedKey() ([]byte, error) {
	if !c.Established() {
		return nil, ErrNotEstablished
	}

	return c.sharedKey, nil
}

// ImageHash returns the attested enclave image digest.
func (c *Channel) ImageHash() string {
	return c.imageHash
}

// Zero wipes the key material.
func (c *Channel) Zero() {
	if c == nil {
		return
	}

	for i := range c.sharedKey {
		c.sharedKey[i] = 0
	}

	c.sharedKey = nil
	c.attestation = nil
	c.remotePublicKey = nil
}

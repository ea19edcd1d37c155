/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

// Package secret stores the holder secret commitments are computed with.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/spi/storage"
)

const (
	// NameSpace for secret store.
	NameSpace = "secretstore"

	privateKeyKey = "holder_private_key"
	secretSize    = 32
)

// Store holds the per-holder secret.
type Store struct {
	store storage.Store
}

type provider interface {
	StorageProvider() storage.Provider
}

// New returns a new secret store.
func New(ctx provider) (*Store, error) {
	store, err := ctx.StorageProvider().OpenStore(NameSpace)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	return &Store{store: store}, nil
}

// PrivateKey returns the hex encoded holder secret, or nil when none was set.
func (s *Store) PrivateKey() ([]byte, error) {
	key, err := s.store.Get(privateKeyKey)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}

	return key, nil
}

// SetPrivateKey replaces the holder secret.
func (s *Store) SetPrivateKey(key []byte) error {
	if _, err := hex.DecodeString(string(key)); err != nil || len(key) == 0 {
		return errors.New("private key must be hex encoded")
	}

	if err := s.store.Put(privateKeyKey, key); err != nil {
		return fmt.Errorf("failed to put private key: %w", err)
	}

	return nil
}

// Generate returns the stored secret, creating a random one when none exists.
func (s *Store) Generate() ([]byte, error) {
	key, err := s.PrivateKey()
	if err != nil || key != nil {
		return key, err
	}

	raw := make([]byte, secretSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	key = []byte(hex.EncodeToString(raw))

	return key, s.SetPrivateKey(key)
}

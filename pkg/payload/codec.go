/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package payload

import (
	"errors"
	"fmt"

	aead "github.com/google/tink/go/aead/subtle"
)

// Encrypted is an AES-GCM sealed payload split into its wire parts.
type Encrypted struct {
	Nonce      []byte
	CipherText []byte
	AuthTag    []byte
}

// Encrypt seals plaintext with the channel key.
func Encrypt(key, plaintext []byte) (*Encrypted, error) {
	cipher, err := aead.NewAESGCM(key)
	if err != nil {
		return nil, fmt.Errorf("create aes-gcm cipher: %w", err)
	}

	sealed, err := cipher.Encrypt(plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}

	// iv || ciphertext || tag
	tagStart := len(sealed) - aead.AESGCMTagSize

	return &Encrypted{
		Nonce:      sealed[:aead.AESGCMIVSize],
		CipherText: sealed[aead.AESGCMIVSize:tagStart],
		AuthTag:    sealed[tagStart:],
	}, nil
}

// Decrypt opens an encrypted payload.
func Decrypt(key []byte, enc *Encrypted) ([]byte, error) {
	if len(enc.Nonce) != aead.AESGCMIVSize || len(enc.AuthTag) != aead.AESGCMTagSize {
		return nil, errors.New("invalid nonce or auth tag size")
	}

	cipher, err := aead.NewAESGCM(key)
	if err != nil {
		return nil, fmt.Errorf("create aes-gcm cipher: %w", err)
	}

	sealed := make([]byte, 0, len(enc.Nonce)+len(enc.CipherText)+len(enc.AuthTag))
	sealed = append(sealed, enc.Nonce...)
	sealed = append(sealed, enc.CipherText...)
	sealed = append(sealed, enc.AuthTag...)

	plaintext, err := cipher.Decrypt(sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}

	return plaintext, nil
}

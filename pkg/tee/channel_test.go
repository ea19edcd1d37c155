/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tee_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/idproof/proving-agent/pkg/internal/test/attestor"
	"github.com/idproof/proving-agent/pkg/tee"
	"github.com/idproof/proving-agent/pkg/tee/attestation"
)

type fixture struct {
	authority *attestor.Authority
	verifier  *attestation.Verifier
	client    *tee.KeyPair
	server    *tee.KeyPair
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	authority, err := attestor.New()
	require.NoError(t, err)

	client, err := tee.GenerateKeyPair()
	require.NoError(t, err)

	server, err := tee.GenerateKeyPair()
	require.NoError(t, err)

	return &fixture{
		authority: authority,
		verifier: attestation.New(
			attestation.WithRoots(authority.Roots()),
			attestation.WithAllowedImages(attestor.ImageDigest),
		),
		client: client,
		server: server,
	}
}

func TestKeyPair(t *testing.T) {
	a, err := tee.GenerateKeyPair()
	require.NoError(t, err)

	b, err := tee.GenerateKeyPair()
	require.NoError(t, err)

	require.Len(t, a.PublicBytes(), 65)
	require.Equal(t, byte(0x04), a.PublicBytes()[0])

	ab, err := a.SharedSecret(b.PublicBytes())
	require.NoError(t, err)
	require.Len(t, ab, tee.SharedKeySize)

	ba, err := b.SharedSecret(a.PublicBytes())
	require.NoError(t, err)
	require.Equal(t, ab, ba)

	_, err = a.SharedSecret([]byte{0x04, 0x01})
	require.Error(t, err)
}

func TestChannelEstablish(t *testing.T) {
	f := newFixture(t)

	t.Run("success derives the enclave's key", func(t *testing.T) {
		token, err := f.authority.Sign(attestor.Token{
			UserPublicKey:   f.client.PublicBytes(),
			ServerPublicKey: f.server.PublicBytes(),
		})
		require.NoError(t, err)

		ch := tee.NewChannel(f.client)
		require.False(t, ch.Established())

		require.NoError(t, ch.Establish([]byte(token), f.verifier, true))
		require.True(t, ch.Established())
		require.Equal(t, attestor.ImageDigest, ch.ImageHash())

		key, err := ch.SharedKey()
		require.NoError(t, err)

		expected, err := f.server.SharedSecret(f.client.PublicBytes())
		require.NoError(t, err)
		require.Equal(t, expected, key)

		ch.Zero()
		require.False(t, ch.Established())

		_, err = ch.SharedKey()
		require.ErrorIs(t, err, tee.ErrNotEstablished)
	})

	t.Run("no key without valid signature or key pinning", func(t *testing.T) {
		other, err := tee.GenerateKeyPair()
		require.NoError(t, err)

		bad := map[string]func() (string, error){
			"forged signature": func() (string, error) {
				return f.authority.SignWithForeignKey(attestor.Token{
					UserPublicKey:   f.client.PublicBytes(),
					ServerPublicKey: f.server.PublicBytes(),
				})
			},
			"substituted client key": func() (string, error) {
				return f.authority.Sign(attestor.Token{
					UserPublicKey:   other.PublicBytes(),
					ServerPublicKey: f.server.PublicBytes(),
				})
			},
			"invalid server key": func() (string, error) {
				return f.authority.Sign(attestor.Token{
					UserPublicKey:   f.client.PublicBytes(),
					ServerPublicKey: []byte{0x04, 0x00},
				})
			},
			"truncated token": func() (string, error) {
				token, err := f.authority.Sign(attestor.Token{
					UserPublicKey:   f.client.PublicBytes(),
					ServerPublicKey: f.server.PublicBytes(),
				})

				return token[:len(token)-10], err
			},
		}

		for name, mk := range bad {
			mk := mk

			t.Run(name, func(t *testing.T) {
				token, err := mk()
				require.NoError(t, err)

				ch := tee.NewChannel(f.client)
				require.Error(t, ch.Establish([]byte(token), f.verifier, false))
				require.False(t, ch.Established())

				_, err = ch.SharedKey()
				require.ErrorIs(t, err, tee.ErrNotEstablished)
			})
		}
	})

	t.Run("image hash not allowed in production", func(t *testing.T) {
		token, err := f.authority.Sign(attestor.Token{
			ImageDigest:     "0badc0de",
			UserPublicKey:   f.client.PublicBytes(),
			ServerPublicKey: f.server.PublicBytes(),
		})
		require.NoError(t, err)

		ch := tee.NewChannel(f.client)
		err = ch.Establish([]byte(token), f.verifier, true)
		require.ErrorIs(t, err, attestation.ErrImageNotAllowed)
		require.False(t, ch.Established())

		require.NoError(t, ch.Establish([]byte(token), f.verifier, false))
		require.True(t, ch.Established())
	})
}

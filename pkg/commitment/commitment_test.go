/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package commitment_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/idproof/proving-agent/pkg/commitment"
	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/internal/test/fixture"
)

func TestSecret(t *testing.T) {
	s, err := commitment.Secret([]byte("0x0a"))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), s)

	for _, bad := range []string{"", "  ", "xyz"} {
		_, err = commitment.Secret([]byte(bad))
		require.ErrorIs(t, err, commitment.ErrInvalidSecret, bad)
	}
}

func TestCommitment(t *testing.T) {
	chain, err := fixture.NewChain()
	require.NoError(t, err)

	doc, err := fixture.Document("doc1", document.Passport, chain, true)
	require.NoError(t, err)

	c1, err := commitment.Commitment(fixture.SecretBytes(), doc, doc.CSCA)
	require.NoError(t, err)

	c2, err := commitment.Commitment(fixture.SecretBytes(), doc, doc.CSCA)
	require.NoError(t, err)
	require.Equal(t, c1, c2)

	t.Run("depends on the secret", func(t *testing.T) {
		other, err := commitment.Commitment([]byte("01"), doc, doc.CSCA)
		require.NoError(t, err)
		require.NotEqual(t, c1, other)
	})

	t.Run("depends on the csca", func(t *testing.T) {
		alt, err := fixture.NewChain()
		require.NoError(t, err)

		other, err := commitment.Commitment(fixture.SecretBytes(), doc, alt.CSCA)
		require.NoError(t, err)
		require.NotEqual(t, c1, other)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := commitment.Commitment([]byte("zz"), doc, doc.CSCA)
		require.ErrorIs(t, err, commitment.ErrInvalidSecret)

		_, err = commitment.Commitment(fixture.SecretBytes(), doc, "garbage")
		require.Error(t, err)
	})
}

func TestNullifier(t *testing.T) {
	chain, err := fixture.NewChain()
	require.NoError(t, err)

	doc, err := fixture.Document("doc1", document.Passport, chain, true)
	require.NoError(t, err)

	n1, err := commitment.Nullifier(doc)
	require.NoError(t, err)

	// the holder secret and the certificates do not change the nullifier.
	other, err := fixture.NewChain()
	require.NoError(t, err)

	moved := doc.Copy()
	moved.DSC = other.DSC
	moved.CSCA = other.CSCA

	n2, err := commitment.Nullifier(moved)
	require.NoError(t, err)
	require.Equal(t, n1, n2)

	moved.DG1 = []byte(fixture.IDCardMRZ)

	n3, err := commitment.Nullifier(moved)
	require.NoError(t, err)
	require.NotEqual(t, n1, n3)
}

func TestLeaves(t *testing.T) {
	zero, err := commitment.CertificateLeaf("")
	require.NoError(t, err)
	require.Zero(t, zero.Sign())

	h, err := commitment.HashBytes(nil)
	require.NoError(t, err)
	require.Zero(t, h.Sign())

	k1, err := commitment.Key("L898902C3", "UTO")
	require.NoError(t, err)

	k2, err := commitment.Key("L898902C3UTO")
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

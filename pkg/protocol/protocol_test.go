/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protocol_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/protocol"
)

func leaves(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}

	return out
}

func TestTree(t *testing.T) {
	ctx := context.Background()

	tree, err := protocol.NewTree(ctx, leaves(7, 11, 11, 42))
	require.NoError(t, err)
	require.NotZero(t, tree.Root().Sign())

	ok, err := tree.Contains(ctx, big.NewInt(11))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Contains(ctx, big.NewInt(12))
	require.NoError(t, err)
	require.False(t, ok)

	p, err := tree.Proof(ctx, big.NewInt(42))
	require.NoError(t, err)
	require.True(t, p.Existence)
	require.Equal(t, tree.Root(), p.Root)

	t.Run("same leaves same root", func(t *testing.T) {
		other, err := protocol.NewTree(ctx, leaves(42, 11, 7))
		require.NoError(t, err)
		require.Equal(t, tree.Root(), other.Root())
	})

	t.Run("empty tree", func(t *testing.T) {
		empty, err := protocol.NewTree(ctx, nil)
		require.NoError(t, err)
		require.Zero(t, empty.Root().Sign())

		ok, err := empty.Contains(ctx, big.NewInt(1))
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestData(t *testing.T) {
	name := "register_id_sha256_sha256_ecdsa_secp256r1_256"
	data := &protocol.Data{
		Environment:      protocol.Staging,
		Category:         document.IDCard,
		DeployedCircuits: map[string][]string{"REGISTER_ID": {name}},
		DNSMapping: map[string]map[string]string{
			"REGISTER_ID": {name: "wss://prover.example/register", "register_id_other": ""},
		},
	}

	require.True(t, data.IsDeployed(circuit.Register, document.IDCard, name))
	require.False(t, data.IsDeployed(circuit.Register, document.Passport, name))
	require.False(t, data.IsDeployed(circuit.DSC, document.IDCard, name))

	url, ok := data.Endpoint(circuit.Register, document.IDCard, name)
	require.True(t, ok)
	require.Equal(t, "wss://prover.example/register", url)

	_, ok = data.Endpoint(circuit.Register, document.IDCard, "register_id_other")
	require.False(t, ok)

	_, ok = data.Endpoint(circuit.Disclose, document.IDCard, name)
	require.False(t, ok)

	require.Equal(t, protocol.Staging, protocol.EnvironmentFor(&document.Document{Mock: true}))
	require.Equal(t, protocol.Production, protocol.EnvironmentFor(&document.Document{}))
}

func TestMemStore(t *testing.T) {
	t.Run("put and get", func(t *testing.T) {
		s := protocol.NewMemStore()

		require.Error(t, s.Put(nil))

		err := s.Fetch(context.Background(), protocol.Staging, document.Passport)
		require.ErrorIs(t, err, protocol.ErrDataNotFound)

		data := &protocol.Data{Environment: protocol.Staging, Category: document.Passport}
		require.NoError(t, s.Put(data))
		require.NoError(t, s.Fetch(context.Background(), protocol.Staging, document.Passport))

		got, err := s.Data(protocol.Staging, document.Passport)
		require.NoError(t, err)
		require.Same(t, data, got)

		_, err = s.Data(protocol.Production, document.Passport)
		require.ErrorIs(t, err, protocol.ErrDataNotFound)
	})

	t.Run("data expires", func(t *testing.T) {
		s := protocol.NewMemStore(protocol.WithTTL(20 * time.Millisecond))
		require.NoError(t, s.Put(&protocol.Data{Environment: protocol.Staging, Category: document.Aadhaar}))

		require.Eventually(t, func() bool {
			_, err := s.Data(protocol.Staging, document.Aadhaar)

			return err != nil
		}, time.Second, 10*time.Millisecond)
	})
}

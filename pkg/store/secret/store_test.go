/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package secret_test

import (
	"fmt"
	"testing"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	mockstore "github.com/hyperledger/aries-framework-go/component/storageutil/mock/storage"
	"github.com/stretchr/testify/require"

	mockprovider "github.com/idproof/proving-agent/pkg/mock/provider"
	"github.com/idproof/proving-agent/pkg/store/secret"
)

func TestStore(t *testing.T) {
	t.Run("no secret", func(t *testing.T) {
		s, err := secret.New(&mockprovider.Provider{StorageProviderValue: mem.NewProvider()})
		require.NoError(t, err)

		key, err := s.PrivateKey()
		require.NoError(t, err)
		require.Nil(t, key)
	})

	t.Run("set and get", func(t *testing.T) {
		s, err := secret.New(&mockprovider.Provider{StorageProviderValue: mem.NewProvider()})
		require.NoError(t, err)

		require.Error(t, s.SetPrivateKey([]byte("not hex")))
		require.Error(t, s.SetPrivateKey(nil))
		require.NoError(t, s.SetPrivateKey([]byte("0a0b0c")))

		key, err := s.PrivateKey()
		require.NoError(t, err)
		require.Equal(t, []byte("0a0b0c"), key)
	})

	t.Run("generate keeps existing secret", func(t *testing.T) {
		s, err := secret.New(&mockprovider.Provider{StorageProviderValue: mem.NewProvider()})
		require.NoError(t, err)

		key, err := s.Generate()
		require.NoError(t, err)
		require.Len(t, key, 64)

		again, err := s.Generate()
		require.NoError(t, err)
		require.Equal(t, key, again)
	})

	t.Run("error from open store", func(t *testing.T) {
		_, err := secret.New(&mockprovider.Provider{
			StorageProviderValue: &mockstore.MockStoreProvider{ErrOpenStoreHandle: fmt.Errorf("open failed")},
		})
		require.EqualError(t, err, "failed to open secret store: open failed")
	})

	t.Run("error from store get", func(t *testing.T) {
		s, err := secret.New(&mockprovider.Provider{
			StorageProviderValue: mockstore.NewCustomMockStoreProvider(&mockstore.MockStore{
				Store:  make(map[string]mockstore.DBEntry),
				ErrGet: fmt.Errorf("get failed"),
			}),
		})
		require.NoError(t, err)

		_, err = s.PrivateKey()
		require.Error(t, err)
		require.Contains(t, err.Error(), "get failed")
	})
}

/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package provider

import (
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/idproof/proving-agent/pkg/proving"
	"github.com/idproof/proving-agent/pkg/protocol"
	"github.com/idproof/proving-agent/pkg/registry"
)

// Provider mocks provider needed for store and proving service initialization.
type Provider struct {
	StorageProviderValue  storage.Provider
	DocumentStoreValue    proving.DocumentStore
	KeyProviderValue      proving.KeyProvider
	ProtocolStoreValue    protocol.Store
	NullifierCheckerValue registry.Checker
}

// StorageProvider returns the storage provider.
func (p *Provider) StorageProvider() storage.Provider {
	return p.StorageProviderValue
}

// DocumentStore returns the document store.
func (p *Provider) DocumentStore() proving.DocumentStore {
	return p.DocumentStoreValue
}

// KeyProvider returns the holder secret provider.
func (p *Provider) KeyProvider() proving.KeyProvider {
	return p.KeyProviderValue
}

// ProtocolStore returns the protocol data store.
func (p *Provider) ProtocolStore() protocol.Store {
	return p.ProtocolStoreValue
}

// NullifierChecker returns the nullifier registry.
func (p *Provider) NullifierChecker() registry.Checker {
	return p.NullifierCheckerValue
}

/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package registry

import (
	"context"
	"math/big"
	"sync"

	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/protocol"
)

// MockChecker mocks the nullifier registry.
type MockChecker struct {
	mu         sync.Mutex
	Nullifiers map[string]bool
	Err        error
	Calls      int
}

// NewMockChecker returns a checker with no used nullifiers.
func NewMockChecker() *MockChecker {
	return &MockChecker{Nullifiers: make(map[string]bool)}
}

// Use marks nullifier as used.
func (m *MockChecker) Use(nullifier *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Nullifiers[nullifier.String()] = true
}

// IsNullified reports whether nullifier was marked used.
func (m *MockChecker) IsNullified(_ context.Context, _ protocol.Environment, _ document.Category,
	nullifier *big.Int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++

	if m.Err != nil {
		return false, m.Err
	}

	return m.Nullifiers[nullifier.String()], nil
}

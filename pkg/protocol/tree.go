/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protocol

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-merkletree-sql/v2"
	"github.com/iden3/go-merkletree-sql/v2/db/memory"
)

const treeLevels = 64

// Tree is a sparse Merkle tree of field element leaves.
type Tree struct {
	mt *merkletree.MerkleTree
}

// Proof of membership or non-membership of a leaf.
type Proof struct {
	Root      *big.Int
	Siblings  []*big.Int
	Existence bool
}

// NewTree builds a tree holding leaves. Duplicate leaves are stored once.
func NewTree(ctx context.Context, leaves []*big.Int) (*Tree, error) {
	mt, err := merkletree.NewMerkleTree(ctx, memory.NewMemoryStorage(), treeLevels)
	if err != nil {
		return nil, fmt.Errorf("new merkle tree: %w", err)
	}

	for _, leaf := range leaves {
		err = mt.Add(ctx, leaf, leaf)
		if err != nil && !errors.Is(err, merkletree.ErrEntryIndexAlreadyExists) {
			return nil, fmt.Errorf("add leaf %s: %w", leaf, err)
		}
	}

	return &Tree{mt: mt}, nil
}

// Root of the tree.
func (t *Tree) Root() *big.Int {
	return t.mt.Root().BigInt()
}

// Contains reports whether leaf is in the tree.
func (t *Tree) Contains(ctx context.Context, leaf *big.Int) (bool, error) {
	p, err := t.Proof(ctx, leaf)
	if err != nil {
		return false, err
	}

	return p.Existence, nil
}

// Proof generates the (non-)membership proof of leaf against the current root.
func (t *Tree) Proof(ctx context.Context, leaf *big.Int) (*Proof, error) {
	p, _, err := t.mt.GenerateProof(ctx, leaf, nil)
	if err != nil {
		return nil, fmt.Errorf("generate proof: %w", err)
	}

	siblings := p.AllSiblings()
	out := &Proof{
		Root:      t.Root(),
		Siblings:  make([]*big.Int, len(siblings)),
		Existence: p.Existence,
	}

	for i, s := range siblings {
		out.Siblings[i] = s.BigInt()
	}

	return out, nil
}

/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package registry reads document nullifiers from the on-chain identity registries.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/protocol"
)

var logger = log.New("proving-agent/registry")

const (
	// MainnetRPCURL is the production chain RPC endpoint.
	MainnetRPCURL = "https://forno.celo.org"
	// TestnetRPCURL is the staging chain RPC endpoint.
	TestnetRPCURL = "https://forno.celo-sepolia.celo-testnet.org"
	// HubAddress is the production identity verification hub.
	HubAddress = "0xe57F4773bd9c9d8b6Cd70431117d353298B9f5BF"
	// HubAddressStaging is the staging identity verification hub.
	HubAddressStaging = "0x16ECBA51e18a4a7e61fdC417f0d47AFEeDfbed74"

	hubABI      = `[{"inputs":[{"internalType":"bytes32","name":"attestationId","type":"bytes32"}],"name":"registry","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}]` // nolint:lll
	registryABI = `[{"inputs":[{"internalType":"bytes32","name":"attestationId","type":"bytes32"},{"internalType":"uint256","name":"nullifier","type":"uint256"}],"name":"nullifiers","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}]` // nolint:lll
)

// ErrNoRegistry is returned when the hub has no registry for the attestation id.
var ErrNoRegistry = errors.New("no registry deployed for attestation id")

// Checker reports whether a document nullifier was already used.
type Checker interface {
	IsNullified(ctx context.Context, env protocol.Environment, c document.Category, nullifier *big.Int) (bool, error)
}

// Network is the chain access of one environment.
type Network struct {
	Caller bind.ContractCaller
	Hub    common.Address
}

// Client is a Checker reading the hub and registry contracts.
type Client struct {
	networks map[protocol.Environment]Network
	hub      abi.ABI
	registry abi.ABI
	mu       sync.RWMutex
	cache    map[string]common.Address
}

// New returns a Client over the given networks.
func New(networks map[protocol.Environment]Network) (*Client, error) {
	hub, err := abi.JSON(strings.NewReader(hubABI))
	if err != nil {
		return nil, fmt.Errorf("parse hub abi: %w", err)
	}

	reg, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}

	return &Client{
		networks: networks,
		hub:      hub,
		registry: reg,
		cache:    make(map[string]common.Address),
	}, nil
}

// Dial connects to the RPC endpoint of each environment and returns a Client.
func Dial(ctx context.Context, rpcURLs, hubs map[protocol.Environment]string) (*Client, error) {
	networks := make(map[protocol.Environment]Network, len(rpcURLs))

	for env, url := range rpcURLs {
		ec, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dial %s rpc: %w", env, err)
		}

		hub, ok := hubs[env]
		if !ok || !common.IsHexAddress(hub) {
			return nil, fmt.Errorf("invalid hub address for %s: %q", env, hub)
		}

		networks[env] = Network{Caller: ec, Hub: common.HexToAddress(hub)}
	}

	return New(networks)
}

// IsNullified calls nullifiers(attestationId, nullifier) on the registry of category c.
func (c *Client) IsNullified(ctx context.Context, env protocol.Environment, cat document.Category,
	nullifier *big.Int) (bool, error) {
	net, ok := c.networks[env]
	if !ok {
		return false, fmt.Errorf("no network configured for environment %s", env)
	}

	attID, err := circuit.Attestation(cat)
	if err != nil {
		return false, err
	}

	id := attestationBytes(attID)

	addr, err := c.registryAddress(ctx, env, net, id)
	if err != nil {
		return false, err
	}

	contract := bind.NewBoundContract(addr, c.registry, net.Caller, nil, nil)

	var out []interface{}

	err = contract.Call(&bind.CallOpts{Context: ctx}, &out, "nullifiers", id, nullifier)
	if err != nil {
		return false, fmt.Errorf("call nullifiers: %w", err)
	}

	used := *abi.ConvertType(out[0], new(bool)).(*bool)

	logger.Debugf("nullifier lookup on %s registry %s: used=%t", env, addr.Hex(), used)

	return used, nil
}

func (c *Client) registryAddress(ctx context.Context, env protocol.Environment, net Network,
	id [32]byte) (common.Address, error) {
	key := fmt.Sprintf("%s/%x", env, id)

	c.mu.RLock()
	addr, ok := c.cache[key]
	c.mu.RUnlock()

	if ok {
		return addr, nil
	}

	hub := bind.NewBoundContract(net.Hub, c.hub, net.Caller, nil, nil)

	var out []interface{}

	if err := hub.Call(&bind.CallOpts{Context: ctx}, &out, "registry", id); err != nil {
		return common.Address{}, fmt.Errorf("call registry: %w", err)
	}

	addr = *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if addr == (common.Address{}) {
		return common.Address{}, ErrNoRegistry
	}

	c.mu.Lock()
	c.cache[key] = addr
	c.mu.Unlock()

	return addr, nil
}

func attestationBytes(id circuit.AttestationID) [32]byte {
	var b [32]byte

	big.NewInt(int64(id)).FillBytes(b[:])

	return b
}

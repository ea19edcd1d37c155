/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/idproof/proving-agent/pkg/payload"
	"github.com/idproof/proving-agent/pkg/protocol"
	"github.com/idproof/proving-agent/pkg/proving"
	"github.com/idproof/proving-agent/pkg/registry"
)

// Config is the agent configuration file.
type Config struct {
	Relay       Relay             `toml:"relay"`
	TreeServers map[string]string `toml:"tree_servers"`
	Chains      map[string]Chain  `toml:"chains"`
	Attestation Attestation       `toml:"attestation"`
	Timeouts    Timeouts          `toml:"timeouts"`
	Disclosure  *DisclosureConfig `toml:"disclosure"`
}

// Relay holds the status relay URL of each environment.
type Relay struct {
	Production string `toml:"production"`
	Staging    string `toml:"staging"`
}

// Chain is the nullifier registry access of one environment.
type Chain struct {
	RPC string `toml:"rpc"`
	Hub string `toml:"hub"`
}

// Attestation configures prover attestation checks.
type Attestation struct {
	// Roots are PEM files with the certificates attestation tokens must chain to.
	Roots         []string `toml:"roots"`
	AllowedImages []string `toml:"allowed_images"`
}

// Timeouts bound the waits of a session, e.g. "90s".
type Timeouts struct {
	Connect string `toml:"connect"`
	Prove   string `toml:"prove"`
}

// DisclosureConfig is the verifier request answered by a disclose session.
type DisclosureConfig struct {
	Scope             string   `toml:"scope"`
	Endpoint          string   `toml:"endpoint"`
	EndpointType      string   `toml:"endpoint_type"`
	UserID            string   `toml:"user_id"`
	UserDefinedData   string   `toml:"user_defined_data"`
	Version           int      `toml:"version"`
	MinimumAge        int      `toml:"minimum_age"`
	ExcludedCountries []string `toml:"excluded_countries"`
	OFAC              bool     `toml:"ofac"`
	Disclose          []string `toml:"disclose"`
}

// DefaultConfig points at the public deployment.
func DefaultConfig() *Config {
	return &Config{
		Relay: Relay{Production: proving.RelayURL, Staging: proving.StagingRelayURL},
		Chains: map[string]Chain{
			string(protocol.Production): {RPC: registry.MainnetRPCURL, Hub: registry.HubAddress},
			string(protocol.Staging):    {RPC: registry.TestnetRPCURL, Hub: registry.HubAddressStaging},
		},
	}
}

// LoadConfig parses b over the defaults.
func LoadConfig(b []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfigFile reads and parses the config file at path.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path) // nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return LoadConfig(b)
}

func (c *Config) validate() error {
	for env := range c.TreeServers {
		if err := checkEnvironment(env); err != nil {
			return err
		}
	}

	for env := range c.Chains {
		if err := checkEnvironment(env); err != nil {
			return err
		}
	}

	if _, err := c.connectTimeout(); err != nil {
		return err
	}

	_, err := c.proveTimeout()

	return err
}

func checkEnvironment(env string) error {
	switch protocol.Environment(env) {
	case protocol.Production, protocol.Staging:
		return nil
	default:
		return fmt.Errorf("unknown environment %q", env)
	}
}

func (c *Config) connectTimeout() (time.Duration, error) {
	return parseDuration("connect", c.Timeouts.Connect)
}

func (c *Config) proveTimeout() (time.Duration, error) {
	return parseDuration("prove", c.Timeouts.Prove)
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s timeout %q", name, value)
	}

	return d, nil
}

func (c *Config) treeServers() map[protocol.Environment]string {
	urls := make(map[protocol.Environment]string, len(c.TreeServers))
	for env, url := range c.TreeServers {
		urls[protocol.Environment(env)] = url
	}

	return urls
}

func (c *Config) chains() (rpcURLs, hubs map[protocol.Environment]string) {
	rpcURLs = make(map[protocol.Environment]string, len(c.Chains))
	hubs = make(map[protocol.Environment]string, len(c.Chains))

	for env, chain := range c.Chains {
		if chain.RPC == "" {
			continue
		}

		rpcURLs[protocol.Environment(env)] = chain.RPC
		hubs[protocol.Environment(env)] = chain.Hub
	}

	return rpcURLs, hubs
}

func (d *DisclosureConfig) request() *payload.DisclosureRequest {
	req := &payload.DisclosureRequest{
		Scope:             d.Scope,
		Endpoint:          d.Endpoint,
		EndpointType:      payload.EndpointKind(d.EndpointType),
		UserID:            d.UserID,
		UserDefinedData:   d.UserDefinedData,
		Version:           d.Version,
		MinimumAge:        d.MinimumAge,
		ExcludedCountries: d.ExcludedCountries,
		OFAC:              d.OFAC,
	}

	for _, a := range d.Disclose {
		req.Disclose = append(req.Disclose, payload.Attribute(a))
	}

	return req
}

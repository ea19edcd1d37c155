/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/payload"
	"github.com/idproof/proving-agent/pkg/protocol"
	"github.com/idproof/proving-agent/pkg/proving"
	"github.com/idproof/proving-agent/pkg/proving/state"
	"github.com/idproof/proving-agent/pkg/registry"
	docstore "github.com/idproof/proving-agent/pkg/store/document"
	"github.com/idproof/proving-agent/pkg/store/secret"
)

const testDocument = `{"id":"doc1","category":"passport","mock":true,"dg1":"UDxVVE8="}`

type mockService struct {
	ch          chan<- proving.StateMsg
	onInit      []proving.StateMsg
	onConfirm   []proving.StateMsg
	initErr     error
	initType    circuit.Type
	initConfirm bool
	initOpts    int
	confirmed   bool
	closed      bool
}

func (m *mockService) RegisterMsgEvent(ch chan<- proving.StateMsg) error {
	m.ch = ch

	return nil
}

func (m *mockService) UnregisterMsgEvent(chan<- proving.StateMsg) error {
	m.ch = nil

	return nil
}

func (m *mockService) Init(_ context.Context, t circuit.Type, userConfirmed bool, opts ...proving.InitOption) error {
	m.initType = t
	m.initConfirm = userConfirmed
	m.initOpts = len(opts)

	if m.initErr != nil {
		return m.initErr
	}

	for _, msg := range m.onInit {
		m.ch <- msg
	}

	return nil
}

func (m *mockService) ConfirmAndProve() error {
	m.confirmed = true

	for _, msg := range m.onConfirm {
		m.ch <- msg
	}

	return nil
}

func (m *mockService) Close() error {
	m.closed = true

	return nil
}

func msg(session uint64, t circuit.Type, st state.State) proving.StateMsg {
	return proving.StateMsg{Session: session, CircuitType: t, StateID: st}
}

func factoryFor(svc *mockService, captured **Parameters) ServiceFactory {
	return func(params *Parameters) (ProvingService, error) {
		if captured != nil {
			*captured = params
		}

		return svc, nil
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestProveCmdContents(t *testing.T) {
	_, err := Cmd(nil)
	require.Error(t, err)

	proveCmd, err := Cmd(factoryFor(&mockService{}, nil))
	require.NoError(t, err)

	require.Equal(t, "prove", proveCmd.Use)
	require.Equal(t, "Prove a document", proveCmd.Short)

	for _, name := range []string{circuitFlagName, documentFlagName, confirmFlagName, dbPathFlagName,
		configFlagName, treeServerFlagName, logLevelFlagName} {
		flag := proveCmd.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		require.Empty(t, flag.Value.String())
	}
}

func TestProveCmdInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{
			name:   "missing circuit",
			args:   []string{"--" + treeServerFlagName, "http://localhost"},
			errMsg: "Neither circuit (command line flag) nor PROVING_AGENT_CIRCUIT (environment variable) have been set.",
		},
		{
			name:   "unknown circuit",
			args:   []string{"--" + circuitFlagName, "prove"},
			errMsg: "unknown circuit type",
		},
		{
			name:   "invalid log level",
			args:   []string{"--" + circuitFlagName, "register", "--" + logLevelFlagName, "loud"},
			errMsg: "failed to parse log level 'loud'",
		},
		{
			name:   "invalid confirm value",
			args:   []string{"--" + circuitFlagName, "register", "--" + confirmFlagName, "maybe"},
			errMsg: "invalid syntax",
		},
		{
			name:   "no tree server",
			args:   []string{"--" + circuitFlagName, "register"},
			errMsg: "no tree server configured",
		},
		{
			name:   "missing config file",
			args:   []string{"--" + circuitFlagName, "register", "--" + configFlagName, "/does/not/exist.toml"},
			errMsg: "read config",
		},
		{
			name: "disclose without request",
			args: []string{
				"--" + circuitFlagName, "disclose", "--" + treeServerFlagName, "http://localhost",
			},
			errMsg: "[disclosure]",
		},
		{
			name: "invalid document",
			args: []string{
				"--" + circuitFlagName, "register", "--" + treeServerFlagName, "http://localhost",
				"--" + documentFlagName, "/does/not/exist.json",
			},
			errMsg: "failed to read document",
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			svc := &mockService{}

			proveCmd, err := Cmd(factoryFor(svc, nil))
			require.NoError(t, err)

			proveCmd.SetArgs(tc.args)

			err = proveCmd.Execute()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.errMsg)
			require.Empty(t, svc.initType)
		})
	}
}

func TestProveCmd(t *testing.T) {
	t.Run("imports the document and completes", func(t *testing.T) {
		svc := &mockService{onInit: []proving.StateMsg{
			msg(1, circuit.Register, state.FetchingData),
			msg(1, circuit.Register, state.Proving),
			msg(1, circuit.Register, state.Completed),
		}}

		var params *Parameters

		proveCmd, err := Cmd(factoryFor(svc, &params))
		require.NoError(t, err)

		out := &bytes.Buffer{}
		proveCmd.SetOut(out)
		proveCmd.SetArgs([]string{
			"--" + circuitFlagName, "register",
			"--" + documentFlagName, writeFile(t, "doc.json", testDocument),
			"--" + confirmFlagName, "true",
			"--" + treeServerFlagName, "http://localhost:8080",
			"--" + logLevelFlagName, "DEBUG",
		})

		require.NoError(t, proveCmd.Execute())
		require.Equal(t, circuit.Register, svc.initType)
		require.True(t, svc.initConfirm)
		require.True(t, svc.closed)
		require.Contains(t, out.String(), "[1] register: completed")

		require.Equal(t, "http://localhost:8080", params.Config.TreeServers[string(protocol.Staging)])

		docs, err := docstore.New(&storeProvider{storage: params.Storage})
		require.NoError(t, err)

		doc, err := docs.LoadSelectedDocument()
		require.NoError(t, err)
		require.Equal(t, "doc1", doc.ID)

		secrets, err := secret.New(&storeProvider{storage: params.Storage})
		require.NoError(t, err)

		key, err := secrets.PrivateKey()
		require.NoError(t, err)
		require.NotEmpty(t, key)
	})

	t.Run("settings from environment and leveldb", func(t *testing.T) {
		dbPath := t.TempDir()

		t.Setenv(circuitEnvKey, "dsc")
		t.Setenv(treeServerEnvKey, "http://localhost:8080")
		t.Setenv(confirmEnvKey, "true")
		t.Setenv(dbPathEnvKey, dbPath)

		svc := &mockService{onInit: []proving.StateMsg{
			msg(1, circuit.DSC, state.PostProving),
			msg(2, circuit.Register, state.ReadyToProve),
			msg(2, circuit.Register, state.Completed),
		}}

		proveCmd, err := Cmd(factoryFor(svc, nil))
		require.NoError(t, err)

		proveCmd.SetOut(&bytes.Buffer{})
		proveCmd.SetArgs(nil)

		require.NoError(t, proveCmd.Execute())
		require.Equal(t, circuit.DSC, svc.initType)
		require.False(t, svc.confirmed)

		entries, err := os.ReadDir(dbPath)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
	})

	t.Run("disclose request from config", func(t *testing.T) {
		cfgPath := writeFile(t, "agent.toml", `
[tree_servers]
staging = "http://localhost:8080"

[disclosure]
scope = "my-app"
endpoint = "https://verifier.example/api"
endpoint_type = "staging_https"
user_id = "a1b2"
minimum_age = 18
disclose = ["nationality"]
`)

		svc := &mockService{onInit: []proving.StateMsg{msg(1, circuit.Disclose, state.Completed)}}

		proveCmd, err := Cmd(factoryFor(svc, nil))
		require.NoError(t, err)

		proveCmd.SetOut(&bytes.Buffer{})
		proveCmd.SetArgs([]string{"--" + circuitFlagName, "disclose", "--" + configFlagName, cfgPath,
			"--" + confirmFlagName, "true"})

		require.NoError(t, proveCmd.Execute())
		require.Equal(t, circuit.Disclose, svc.initType)
		require.Equal(t, 1, svc.initOpts)
	})

	t.Run("service creation fails", func(t *testing.T) {
		proveCmd, err := Cmd(func(*Parameters) (ProvingService, error) {
			return nil, errors.New("boom")
		})
		require.NoError(t, err)

		proveCmd.SetArgs([]string{"--" + circuitFlagName, "register", "--" + treeServerFlagName, "http://localhost"})

		err = proveCmd.Execute()
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to create proving service: boom")
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("asks for confirmation", func(t *testing.T) {
		svc := &mockService{
			onInit:    []proving.StateMsg{msg(1, circuit.Register, state.ReadyToProve)},
			onConfirm: []proving.StateMsg{msg(1, circuit.Register, state.Completed)},
		}

		out := &bytes.Buffer{}

		err := run(ctx, svc, strings.NewReader("yes\n"), out, circuit.Register, false)
		require.NoError(t, err)
		require.True(t, svc.confirmed)
		require.Contains(t, out.String(), "Submit the register proof? [y/N]")
	})

	t.Run("confirmation refused", func(t *testing.T) {
		svc := &mockService{onInit: []proving.StateMsg{msg(1, circuit.Register, state.ReadyToProve)}}

		err := run(ctx, svc, strings.NewReader("n\n"), &bytes.Buffer{}, circuit.Register, false)
		require.ErrorIs(t, err, errNotConfirmed)
		require.False(t, svc.confirmed)

		err = run(ctx, svc, strings.NewReader(""), &bytes.Buffer{}, circuit.Register, false)
		require.ErrorIs(t, err, errNotConfirmed)
	})

	t.Run("proof rejected", func(t *testing.T) {
		failed := msg(1, circuit.Register, state.Failure)
		failed.Failure = &proving.Failure{ErrorCode: "E001", Reason: "bad proof"}

		svc := &mockService{onInit: []proving.StateMsg{failed}}

		err := run(ctx, svc, strings.NewReader(""), &bytes.Buffer{}, circuit.Register, true)
		require.EqualError(t, err, "proof rejected (E001): bad proof")
	})

	t.Run("session error", func(t *testing.T) {
		failed := msg(1, circuit.Register, state.Error)
		failed.Err = &proving.Error{Kind: proving.ConnectionFailure, Err: proving.ErrTimeout}

		svc := &mockService{onInit: []proving.StateMsg{failed}}

		err := run(ctx, svc, strings.NewReader(""), &bytes.Buffer{}, circuit.Register, true)
		require.ErrorIs(t, err, proving.ErrTimeout)
		require.Contains(t, err.Error(), "proving ended in error")
	})

	t.Run("other terminal state", func(t *testing.T) {
		svc := &mockService{onInit: []proving.StateMsg{msg(1, circuit.Register, state.AccountRecoveryChoice)}}

		err := run(ctx, svc, strings.NewReader(""), &bytes.Buffer{}, circuit.Register, true)
		require.EqualError(t, err, "proving ended in account_recovery_choice")
	})

	t.Run("init fails", func(t *testing.T) {
		svc := &mockService{initErr: proving.ErrNoSession}

		err := run(ctx, svc, strings.NewReader(""), &bytes.Buffer{}, circuit.Register, true)
		require.ErrorIs(t, err, proving.ErrNoSession)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		svc := &mockService{onInit: []proving.StateMsg{msg(1, circuit.Register, state.Proving)}}

		err := run(cctx, svc, strings.NewReader(""), &bytes.Buffer{}, circuit.Register, true)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig(nil)
		require.NoError(t, err)
		require.Equal(t, proving.RelayURL, cfg.Relay.Production)
		require.Equal(t, registry.HubAddressStaging, cfg.Chains[string(protocol.Staging)].Hub)

		rpcURLs, hubs := cfg.chains()
		require.Equal(t, registry.MainnetRPCURL, rpcURLs[protocol.Production])
		require.Equal(t, registry.HubAddress, hubs[protocol.Production])
	})

	t.Run("full file", func(t *testing.T) {
		cfg, err := LoadConfig([]byte(`
[relay]
staging = "ws://localhost:9000"

[tree_servers]
production = "https://trees.example"

[chains.production]
rpc = ""

[attestation]
allowed_images = ["sha256:abc"]

[timeouts]
connect = "5s"
prove = "2m"
`))
		require.NoError(t, err)
		require.Equal(t, "ws://localhost:9000", cfg.Relay.Staging)
		require.Equal(t, map[protocol.Environment]string{protocol.Production: "https://trees.example"},
			cfg.treeServers())
		require.Equal(t, []string{"sha256:abc"}, cfg.Attestation.AllowedImages)

		rpcURLs, _ := cfg.chains()
		require.NotContains(t, rpcURLs, protocol.Production)

		d, err := cfg.connectTimeout()
		require.NoError(t, err)
		require.Equal(t, 5*time.Second, d)

		d, err = cfg.proveTimeout()
		require.NoError(t, err)
		require.Equal(t, 2*time.Minute, d)
	})

	t.Run("invalid files", func(t *testing.T) {
		for _, raw := range []string{
			`[tree_servers]
testnet = "http://localhost"`,
			`[chains.devnet]
rpc = "http://localhost"`,
			`[timeouts]
connect = "soon"`,
			`[timeouts]
prove = "-1s"`,
			`relay = 3`,
		} {
			_, err := LoadConfig([]byte(raw))
			require.Error(t, err, raw)
		}
	})

	t.Run("disclosure request", func(t *testing.T) {
		d := &DisclosureConfig{
			Scope:        "my-app",
			EndpointType: "https",
			Disclose:     []string{"name", "nationality"},
			OFAC:         true,
		}

		req := d.request()
		require.Equal(t, payload.HTTPS, req.EndpointType)
		require.Equal(t, []payload.Attribute{payload.Name, payload.Nationality}, req.Disclose)
		require.True(t, req.OFAC)
	})
}

func TestNewService(t *testing.T) {
	t.Run("without chains", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Chains = nil
		cfg.TreeServers = map[string]string{string(protocol.Staging): "http://localhost:8080"}
		cfg.Timeouts = Timeouts{Connect: "1s", Prove: "1m"}

		svc, err := NewService(&Parameters{Storage: createStoreProvider(""), Config: cfg})
		require.NoError(t, err)
		require.NoError(t, svc.Close())
	})

	t.Run("invalid attestation root", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Chains = nil
		cfg.Attestation.Roots = []string{writeFile(t, "root.pem", "not a certificate")}

		_, err := NewService(&Parameters{Storage: createStoreProvider(""), Config: cfg})
		require.Error(t, err)

		cfg.Attestation.Roots = []string{"/does/not/exist.pem"}

		_, err = NewService(&Parameters{Storage: createStoreProvider(""), Config: cfg})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to read attestation root")
	})

	t.Run("invalid hub", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Chains = map[string]Chain{string(protocol.Staging): {RPC: "http://127.0.0.1:1", Hub: "nope"}}

		_, err := NewService(&Parameters{Storage: createStoreProvider(""), Config: cfg})
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid hub address")
	})
}

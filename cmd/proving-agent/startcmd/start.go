/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/storage/leveldb"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/spf13/cobra"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/protocol"
	"github.com/idproof/proving-agent/pkg/protocol/httpstore"
	"github.com/idproof/proving-agent/pkg/proving"
	"github.com/idproof/proving-agent/pkg/proving/state"
	"github.com/idproof/proving-agent/pkg/registry"
	docstore "github.com/idproof/proving-agent/pkg/store/document"
	"github.com/idproof/proving-agent/pkg/store/secret"
	"github.com/idproof/proving-agent/pkg/tee/attestation"
	"github.com/idproof/proving-agent/pkg/telemetry"
)

const (
	// circuit flag.
	circuitFlagName      = "circuit"
	circuitEnvKey        = "PROVING_AGENT_CIRCUIT"
	circuitFlagShorthand = "c"
	circuitFlagUsage     = "Circuit to prove. Supported options: register, dsc, disclose." +
		" Alternatively, this can be set with the following environment variable: " + circuitEnvKey

	// document flag.
	documentFlagName      = "document"
	documentEnvKey        = "PROVING_AGENT_DOCUMENT"
	documentFlagShorthand = "d"
	documentFlagUsage     = "Path of a scanned document (JSON) to import and select before proving (optional)." +
		" Alternatively, this can be set with the following environment variable: " + documentEnvKey

	confirmFlagName  = "confirm"
	confirmEnvKey    = "PROVING_AGENT_CONFIRM"
	confirmFlagUsage = "Submit the proof without asking for confirmation. Possible values [true] [false]." +
		" Defaults to false if not set." +
		" Alternatively, this can be set with the following environment variable: " + confirmEnvKey

	dbPathFlagName  = "db-path"
	dbPathEnvKey    = "PROVING_AGENT_DB_PATH"
	dbPathFlagUsage = "Directory of the leveldb database holding documents and the holder secret." +
		" In-memory storage is used if not set." +
		" Alternatively, this can be set with the following environment variable: " + dbPathEnvKey

	configFlagName  = "config"
	configEnvKey    = "PROVING_AGENT_CONFIG"
	configFlagUsage = "Path of the TOML configuration file (optional)." +
		" Alternatively, this can be set with the following environment variable: " + configEnvKey

	treeServerFlagName  = "tree-server"
	treeServerEnvKey    = "PROVING_AGENT_TREE_SERVER"
	treeServerFlagUsage = "Base URL of the tree server, used for environments the configuration file leaves out." +
		" Alternatively, this can be set with the following environment variable: " + treeServerEnvKey

	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "PROVING_AGENT_LOG_LEVEL"
	logLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL] . Defaults to INFO if not set." +
		" Alternatively, this can be set with the following environment variable: " + logLevelEnvKey

	stateBuffer = 64
	dialTimeout = 30 * time.Second
)

var logger = log.New("proving-agent/startcmd")

var errNotConfirmed = errors.New("proof submission was not confirmed")

// ProvingService is the part of the proving service the command drives.
type ProvingService interface {
	RegisterMsgEvent(ch chan<- proving.StateMsg) error
	UnregisterMsgEvent(ch chan<- proving.StateMsg) error
	Init(ctx context.Context, t circuit.Type, userConfirmed bool, opts ...proving.InitOption) error
	ConfirmAndProve() error
	Close() error
}

// ServiceFactory creates the proving service.
type ServiceFactory func(params *Parameters) (ProvingService, error)

// Parameters are the resolved command inputs.
type Parameters struct {
	Storage storage.Provider
	Config  *Config
}

// Cmd returns the Cobra prove command.
func Cmd(factory ServiceFactory) (*cobra.Command, error) {
	if factory == nil {
		return nil, errors.New("service factory is mandatory")
	}

	proveCmd := createProveCMD(factory)

	createFlags(proveCmd)

	return proveCmd, nil
}

func createProveCMD(factory ServiceFactory) *cobra.Command { //nolint: funlen, gocyclo
	return &cobra.Command{
		Use:   "prove",
		Short: "Prove a document",
		Long:  `Run one proving session for the selected identity document and wait for its outcome`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logLevel, err := getUserSetVar(cmd, logLevelFlagName, logLevelEnvKey, true)
			if err != nil {
				return err
			}

			err = setLogLevel(logLevel)
			if err != nil {
				return err
			}

			circuitName, err := getUserSetVar(cmd, circuitFlagName, circuitEnvKey, false)
			if err != nil {
				return err
			}

			circuitType, err := circuit.ParseType(circuitName)
			if err != nil {
				return err
			}

			confirm, err := getConfirmValue(cmd)
			if err != nil {
				return err
			}

			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}

			documentPath, err := getUserSetVar(cmd, documentFlagName, documentEnvKey, true)
			if err != nil {
				return err
			}

			dbPath, err := getUserSetVar(cmd, dbPathFlagName, dbPathEnvKey, true)
			if err != nil {
				return err
			}

			var opts []proving.InitOption

			if circuitType == circuit.Disclose {
				if cfg.Disclosure == nil {
					return errors.New("disclose needs a [disclosure] section in the configuration file")
				}

				opts = append(opts, proving.WithDisclosure(cfg.Disclosure.request()))
			}

			provider := createStoreProvider(dbPath)

			defer func() {
				if errClose := provider.Close(); errClose != nil {
					logger.Warnf("failed to close storage: %s", errClose)
				}
			}()

			err = prepareStores(provider, documentPath)
			if err != nil {
				return err
			}

			svc, err := factory(&Parameters{Storage: provider, Config: cfg})
			if err != nil {
				return fmt.Errorf("failed to create proving service: %w", err)
			}

			defer func() {
				if errClose := svc.Close(); errClose != nil {
					logger.Warnf("failed to close proving service: %s", errClose)
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			return run(ctx, svc, cmd.InOrStdin(), cmd.OutOrStdout(), circuitType, confirm, opts...)
		},
	}
}

func createFlags(proveCmd *cobra.Command) {
	proveCmd.Flags().StringP(circuitFlagName, circuitFlagShorthand, "", circuitFlagUsage)
	proveCmd.Flags().StringP(documentFlagName, documentFlagShorthand, "", documentFlagUsage)
	proveCmd.Flags().StringP(confirmFlagName, "", "", confirmFlagUsage)
	proveCmd.Flags().StringP(dbPathFlagName, "", "", dbPathFlagUsage)
	proveCmd.Flags().StringP(configFlagName, "", "", configFlagUsage)
	proveCmd.Flags().StringP(treeServerFlagName, "", "", treeServerFlagUsage)
	proveCmd.Flags().StringP(logLevelFlagName, "", "", logLevelFlagUsage)
}

func getUserSetVar(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		return value, nil
	}

	return "", errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

func getConfirmValue(cmd *cobra.Command) (bool, error) {
	v, err := getUserSetVar(cmd, confirmFlagName, confirmEnvKey, true)
	if err != nil {
		return false, err
	}

	if v == "" {
		return false, nil
	}

	return strconv.ParseBool(v)
}

func getConfig(cmd *cobra.Command) (*Config, error) {
	path, err := getUserSetVar(cmd, configFlagName, configEnvKey, true)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	if path != "" {
		cfg, err = LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
	}

	treeServer, err := getUserSetVar(cmd, treeServerFlagName, treeServerEnvKey, true)
	if err != nil {
		return nil, err
	}

	if treeServer != "" {
		if cfg.TreeServers == nil {
			cfg.TreeServers = make(map[string]string)
		}

		for _, env := range []protocol.Environment{protocol.Production, protocol.Staging} {
			if cfg.TreeServers[string(env)] == "" {
				cfg.TreeServers[string(env)] = treeServer
			}
		}
	}

	if len(cfg.TreeServers) == 0 {
		return nil, errors.New("no tree server configured, set " + treeServerFlagName + " or [tree_servers]")
	}

	return cfg, nil
}

func setLogLevel(logLevel string) error {
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level '%s' : %w", logLevel, err)
		}

		log.SetLevel("", level)

		logger.Infof("logger level set to %s", logLevel)
	}

	return nil
}

func createStoreProvider(dbPath string) storage.Provider {
	if dbPath == "" {
		return mem.NewProvider()
	}

	return leveldb.NewProvider(dbPath)
}

type storeProvider struct {
	storage storage.Provider
}

func (p *storeProvider) StorageProvider() storage.Provider {
	return p.storage
}

// prepareStores imports the document at documentPath and makes sure a holder secret exists.
func prepareStores(provider storage.Provider, documentPath string) error {
	ctx := &storeProvider{storage: provider}

	if documentPath != "" {
		raw, err := os.ReadFile(documentPath) // nolint:gosec
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}

		doc, err := document.Parse(raw)
		if err != nil {
			return err
		}

		docs, err := docstore.New(ctx)
		if err != nil {
			return err
		}

		if err = docs.Save(doc); err != nil {
			return err
		}

		if err = docs.Select(doc.ID); err != nil {
			return err
		}

		logger.Infof("imported %s document %s", doc.Category, doc.ID)
	}

	secrets, err := secret.New(ctx)
	if err != nil {
		return err
	}

	_, err = secrets.Generate()

	return err
}

// run drives one pipeline. A DSC session hands over to a register session; run returns on the first terminal state.
func run(ctx context.Context, svc ProvingService, in io.Reader, out io.Writer, t circuit.Type, confirm bool,
	opts ...proving.InitOption) error {
	states := make(chan proving.StateMsg, stateBuffer)

	if err := svc.RegisterMsgEvent(states); err != nil {
		return err
	}

	defer func() {
		if err := svc.UnregisterMsgEvent(states); err != nil {
			logger.Warnf("failed to unregister state channel: %s", err)
		}
	}()

	if err := svc.Init(ctx, t, confirm, opts...); err != nil {
		return fmt.Errorf("failed to start proving session: %w", err)
	}

	reader := bufio.NewReader(in)

	for {
		select {
		case msg := <-states:
			fmt.Fprintf(out, "[%d] %s: %s\n", msg.Session, msg.CircuitType, msg.StateID) // nolint:errcheck

			switch {
			case msg.StateID == state.ReadyToProve && !confirm:
				ok, err := askConfirmation(reader, out, msg.CircuitType)
				if err != nil {
					return err
				}

				if !ok {
					return errNotConfirmed
				}

				confirm = true

				if err := svc.ConfirmAndProve(); err != nil {
					return err
				}
			case msg.StateID == state.Completed:
				return nil
			case msg.StateID.Terminal():
				return outcomeError(msg)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func askConfirmation(r *bufio.Reader, out io.Writer, t circuit.Type) (bool, error) {
	fmt.Fprintf(out, "Submit the %s proof? [y/N] ", t) // nolint:errcheck

	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func outcomeError(msg proving.StateMsg) error {
	switch {
	case msg.Failure != nil:
		return fmt.Errorf("proof rejected (%s): %s", msg.Failure.ErrorCode, msg.Failure.Reason)
	case msg.Err != nil:
		return fmt.Errorf("proving ended in %s: %w", msg.StateID, msg.Err)
	default:
		return fmt.Errorf("proving ended in %s", msg.StateID)
	}
}

type agent struct {
	*storeProvider

	docs       *docstore.Store
	secrets    *secret.Store
	protocol   protocol.Store
	nullifiers registry.Checker
}

func (a *agent) DocumentStore() proving.DocumentStore {
	return a.docs
}

func (a *agent) KeyProvider() proving.KeyProvider {
	return a.secrets
}

func (a *agent) ProtocolStore() protocol.Store {
	return a.protocol
}

func (a *agent) NullifierChecker() registry.Checker {
	return a.nullifiers
}

type service struct {
	*proving.Service

	telemetry *telemetry.Async
}

func (s *service) Close() error {
	err := s.Service.Close()

	s.telemetry.Close()

	return err
}

// NewService wires the proving service to the configured tree servers, chains and relays.
func NewService(params *Parameters) (ProvingService, error) { //nolint: funlen
	cfg := params.Config
	a := &agent{storeProvider: &storeProvider{storage: params.Storage}}

	var err error

	if a.docs, err = docstore.New(a); err != nil {
		return nil, err
	}

	if a.secrets, err = secret.New(a); err != nil {
		return nil, err
	}

	a.protocol = httpstore.New(cfg.treeServers())

	rpcURLs, hubs := cfg.chains()
	if len(rpcURLs) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()

		client, errDial := registry.Dial(ctx, rpcURLs, hubs)
		if errDial != nil {
			return nil, errDial
		}

		a.nullifiers = client
	}

	verifier, err := createVerifier(cfg.Attestation)
	if err != nil {
		return nil, err
	}

	sink := telemetry.NewAsync(telemetry.LogSink{}, 0)

	opts := []proving.Option{
		proving.WithVerifier(verifier),
		proving.WithTelemetry(sink),
		proving.WithRelayURLs(cfg.Relay.Production, cfg.Relay.Staging),
	}

	if d, _ := cfg.connectTimeout(); d > 0 { //nolint: errcheck
		opts = append(opts, proving.WithConnectTimeout(d))
	}

	if d, _ := cfg.proveTimeout(); d > 0 { //nolint: errcheck
		opts = append(opts, proving.WithProveTimeout(d))
	}

	svc, err := proving.New(a, opts...)
	if err != nil {
		sink.Close()

		return nil, err
	}

	return &service{Service: svc, telemetry: sink}, nil
}

func createVerifier(cfg Attestation) (*attestation.Verifier, error) {
	var opts []attestation.Option

	if len(cfg.Roots) > 0 {
		pems := make([][]byte, 0, len(cfg.Roots))

		for _, path := range cfg.Roots {
			b, err := os.ReadFile(path) // nolint:gosec
			if err != nil {
				return nil, fmt.Errorf("failed to read attestation root: %w", err)
			}

			pems = append(pems, b)
		}

		roots, err := attestation.RootsFromPEM(pems...)
		if err != nil {
			return nil, err
		}

		opts = append(opts, attestation.WithRoots(roots))
	}

	if len(cfg.AllowedImages) > 0 {
		opts = append(opts, attestation.WithAllowedImages(cfg.AllowedImages...))
	}

	return attestation.New(opts...), nil
}

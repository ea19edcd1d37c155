/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package proving drives proving sessions: it validates the holder's document against the protocol data,
// opens an attested channel to a prover enclave, submits the sealed circuit inputs and follows the proof
// status until the session ends.
package proving

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/payload"
	"github.com/idproof/proving-agent/pkg/proving/state"
	"github.com/idproof/proving-agent/pkg/protocol"
	"github.com/idproof/proving-agent/pkg/registry"
	"github.com/idproof/proving-agent/pkg/tee"
	"github.com/idproof/proving-agent/pkg/tee/attestation"
	"github.com/idproof/proving-agent/pkg/telemetry"
)

var logger = log.New("proving-agent/proving")

const (
	// RelayURL is the production status relay.
	RelayURL = "wss://websocket.self.xyz"
	// StagingRelayURL is the staging status relay.
	StagingRelayURL = "wss://websocket.staging.self.xyz"

	defaultConnectTimeout = 60 * time.Second
	defaultProveTimeout   = 5 * time.Minute
	defaultChainDelay     = 2 * time.Second
	queueSize             = 64
)

// DocumentStore persists the holder's documents.
type DocumentStore interface {
	// LoadSelectedDocument returns nil when no document is selected.
	LoadSelectedDocument() (*document.Document, error)
	Save(doc *document.Document) error
	MarkRegistered(id string) error
	Clear() error
}

// KeyProvider returns the holder secret.
type KeyProvider interface {
	// PrivateKey returns nil when no secret exists.
	PrivateKey() ([]byte, error)
}

// Provider contains dependencies for the proving service.
type Provider interface {
	DocumentStore() DocumentStore
	KeyProvider() KeyProvider
	ProtocolStore() protocol.Store
	NullifierChecker() registry.Checker
}

// Option configures a Service.
type Option func(*Service)

// WithApp sets the receiver of lifecycle events.
func WithApp(app App) Option {
	return func(s *Service) {
		s.app = app
	}
}

// WithTelemetry sets the analytics sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(s *Service) {
		s.telemetry = sink
	}
}

// WithVerifier sets the attestation verifier.
func WithVerifier(v tee.Verifier) Option {
	return func(s *Service) {
		s.verifier = v
	}
}

// WithRelayURLs sets the production and staging status relays.
func WithRelayURLs(production, staging string) Option {
	return func(s *Service) {
		s.relayURL = production
		s.stagingRelayURL = staging
	}
}

// WithConnectTimeout bounds the wait for the enclave attestation.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.connectTimeout = d
	}
}

// WithProveTimeout bounds the wait for a final proof status.
func WithProveTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.proveTimeout = d
	}
}

// WithChainDelay sets the pause between a dsc proof and the register session that follows it.
func WithChainDelay(d time.Duration) Option {
	return func(s *Service) {
		s.chainDelay = d
	}
}

// WithStaticKey sets the client key pair used for every session.
func WithStaticKey(k *tee.KeyPair) Option {
	return func(s *Service) {
		s.staticKey = k
	}
}

// WithTolerateSessionIDEcho accepts prover acknowledgements carrying another session id.
func WithTolerateSessionIDEcho(tolerate bool) Option {
	return func(s *Service) {
		s.tolerateEcho = tolerate
	}
}

// InitOption configures one session.
type InitOption func(*initOpts)

type initOpts struct {
	disclosure *payload.DisclosureRequest
}

// WithDisclosure sets the verifier request of a disclose session.
func WithDisclosure(req *payload.DisclosureRequest) InitOption {
	return func(o *initOpts) {
		o.disclosure = req
	}
}

// Service runs proving sessions. Only one session is live at a time; Init replaces the current one.
type Service struct {
	message

	docs       DocumentStore
	keys       KeyProvider
	protocol   protocol.Store
	nullifiers registry.Checker
	builder    *payload.Builder

	app             App
	telemetry       telemetry.Sink
	verifier        tee.Verifier
	staticKey       *tee.KeyPair
	relayURL        string
	stagingRelayURL string
	connectTimeout  time.Duration
	proveTimeout    time.Duration
	chainDelay      time.Duration
	tolerateEcho    bool

	// mu serializes session replacement and guards closed. cmu guards current.
	mu       sync.Mutex
	closed   bool
	cmu      sync.RWMutex
	current  *session
	sessions uint64
}

// New returns a proving service.
func New(p Provider, opts ...Option) (*Service, error) {
	s := &Service{
		docs:            p.DocumentStore(),
		keys:            p.KeyProvider(),
		protocol:        p.ProtocolStore(),
		nullifiers:      p.NullifierChecker(),
		builder:         payload.NewBuilder(),
		app:             nopApp{},
		telemetry:       telemetry.Nop{},
		relayURL:        RelayURL,
		stagingRelayURL: StagingRelayURL,
		connectTimeout:  defaultConnectTimeout,
		proveTimeout:    defaultProveTimeout,
		chainDelay:      defaultChainDelay,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.docs == nil || s.keys == nil || s.protocol == nil {
		return nil, fmt.Errorf("proving service needs a document store, a key provider and a protocol store")
	}

	if s.verifier == nil {
		s.verifier = attestation.New()
	}

	if s.staticKey == nil {
		k, err := tee.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate client key pair: %w", err)
		}

		s.staticKey = k
	}

	return s, nil
}

// Init starts a session proving circuit t. A live session is torn down first.
// Without userConfirmed the session waits in ready_to_prove for ConfirmAndProve.
func (s *Service) Init(ctx context.Context, t circuit.Type, userConfirmed bool, opts ...InitOption) error {
	if _, err := circuit.ParseType(string(t)); err != nil {
		return err
	}

	o := &initOpts{}
	for _, opt := range opts {
		opt(o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.init(ctx, t, userConfirmed, o)

	return nil
}

func (s *Service) init(ctx context.Context, t circuit.Type, userConfirmed bool, o *initOpts) {
	if s.current != nil {
		s.current.stop()
	}

	s.closed = false
	s.sessions++

	sess := newSession(ctx, s, s.sessions, t, userConfirmed, o)

	s.cmu.Lock()
	s.current = sess
	s.cmu.Unlock()

	first := sess.load()

	logger.Debugf("session %d: init %s (confirmed=%t)", sess.id, t, userConfirmed)

	go sess.run(first)
}

// chain starts the register session that follows the dsc proof of from.
func (s *Service) chain(from *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.session() != from {
		return
	}

	logger.Infof("session %d: dsc proof done, switching to register", from.id)

	s.init(from.parent, circuit.Register, true, &initOpts{})
}

// ConfirmAndProve records the holder's consent. A session waiting in ready_to_prove starts proving.
// ErrNoSession is returned when no session is live.
func (s *Service) ConfirmAndProve() error {
	sess := s.session()
	if sess == nil || !sess.post(confirmEvent{}) {
		return ErrNoSession
	}

	return nil
}

// State returns the state of the current session.
func (s *Service) State() state.State {
	if sess := s.session(); sess != nil {
		return sess.view().state
	}

	return state.Idle
}

// CircuitType returns the circuit the current session proves.
func (s *Service) CircuitType() circuit.Type {
	if sess := s.session(); sess != nil {
		return sess.view().circuitType
	}

	return ""
}

// Failure returns the prover's rejection reason when the session ended in failure.
func (s *Service) Failure() *Failure {
	if sess := s.session(); sess != nil {
		return sess.view().failure
	}

	return nil
}

// Err returns the cause of an error or failure end state.
func (s *Service) Err() *Error {
	if sess := s.session(); sess != nil {
		return sess.view().err
	}

	return nil
}

// Close tears the current session down. Its last state stays readable and no chained session starts.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	if s.current != nil {
		s.current.stop()
	}

	return nil
}

func (s *Service) session() *session {
	s.cmu.RLock()
	defer s.cmu.RUnlock()

	return s.current
}

func (s *Service) relay(kind payload.EndpointKind) string {
	if kind.Staging() {
		return s.stagingRelayURL
	}

	return s.relayURL
}

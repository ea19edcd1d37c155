/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package teeserver runs an in-process prover enclave and status relay for tests.
package teeserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/idproof/proving-agent/pkg/internal/test/attestor"
	"github.com/idproof/proving-agent/pkg/payload"
	"github.com/idproof/proving-agent/pkg/tee"
)

const (
	proverPath = "/prover"
	relayPath  = "/socket.io/"
)

// Config sets the server behavior.
type Config struct {
	Authority *attestor.Authority
	// ImageDigest is the attested enclave image. Defaults to attestor.ImageDigest.
	ImageDigest string
	// ForeignUserKey attests a client key other than the one received in hello.
	ForeignUserKey bool
	// EchoID replaces the session id in the submission acknowledgement.
	EchoID string
	// SubmitError answers submissions with a JSON-RPC error.
	SubmitError string
	// Statuses are the JSON payloads of the status events sent once subscribed. Defaults to success.
	Statuses []string
	// StatusDelay postpones the status events.
	StatusDelay time.Duration
	// CloseBeforeAttestation closes the prover connection when hello is received.
	CloseBeforeAttestation bool
	// CloseAfterAttestation closes the prover connection once the attestation is sent.
	CloseAfterAttestation bool
	// DropRelayAfterSubscribe closes the relay connection once the subscription is received.
	DropRelayAfterSubscribe bool
}

// Submission is a decrypted submit request.
type Submission struct {
	SessionID string
	Payload   []byte
}

// Server serves the prover on URL and the status relay on RelayURL.
type Server struct {
	URL      string
	RelayURL string

	cfg Config
	srv *httptest.Server

	active int32
	hellos int32

	mu            sync.Mutex
	submissions   []Submission
	subscriptions []string
}

// New starts a server.
func New(cfg Config) (*Server, error) {
	if cfg.Authority == nil {
		return nil, errors.New("authority is mandatory")
	}

	if len(cfg.Statuses) == 0 {
		cfg.Statuses = []string{`{"status":1}`, `{"status":4}`}
	}

	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc(proverPath, s.prover)
	mux.HandleFunc(relayPath, s.relay)

	s.srv = httptest.NewServer(mux)

	base := "ws" + strings.TrimPrefix(s.srv.URL, "http")
	s.URL = base + proverPath
	s.RelayURL = base

	return s, nil
}

// Close stops the server.
func (s *Server) Close() {
	s.srv.CloseClientConnections()
	s.srv.Close()
}

// Active returns the number of open prover connections.
func (s *Server) Active() int32 {
	return atomic.LoadInt32(&s.active)
}

// Hellos returns the number of hello requests received.
func (s *Server) Hellos() int32 {
	return atomic.LoadInt32(&s.hellos)
}

// Submissions returns the decrypted submissions.
func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Submission(nil), s.submissions...)
}

// Subscriptions returns the ids subscribed on the relay.
func (s *Server) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.subscriptions...)
}

type request struct {
	Method string          `json:"method"`
	ID     int             `json:"id"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

type attestationResult struct {
	Attestation payload.Bytes `json:"attestation"`
}

func (s *Server) prover(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)

	defer c.Close(websocket.StatusNormalClosure, "") // nolint:errcheck

	ctx := r.Context()

	var (
		key     *tee.KeyPair
		userKey []byte
	)

	for {
		req := request{}
		if err := wsjson.Read(ctx, c, &req); err != nil {
			return
		}

		var resp *response

		switch req.Method {
		case payload.MethodHello:
			atomic.AddInt32(&s.hellos, 1)

			if s.cfg.CloseBeforeAttestation {
				return
			}

			key, userKey, resp, err = s.hello(req)
		case payload.MethodSubmit:
			resp, err = s.submit(req, key, userKey)
		default:
			err = fmt.Errorf("unknown method %s", req.Method)
		}

		if err != nil {
			resp = &response{JSONRPC: payload.JSONRPCVersion, ID: req.ID, Error: map[string]string{"message": err.Error()}}
		}

		if err := wsjson.Write(ctx, c, resp); err != nil {
			return
		}

		if s.cfg.CloseAfterAttestation && req.Method == payload.MethodHello {
			return
		}
	}
}

func (s *Server) hello(req request) (*tee.KeyPair, []byte, *response, error) {
	params := payload.HelloParams{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, nil, nil, err
	}

	key, err := tee.GenerateKeyPair()
	if err != nil {
		return nil, nil, nil, err
	}

	attested := []byte(params.UserPubkey)

	if s.cfg.ForeignUserKey {
		other, e := tee.GenerateKeyPair()
		if e != nil {
			return nil, nil, nil, e
		}

		attested = other.PublicBytes()
	}

	token, err := s.cfg.Authority.Sign(attestor.Token{
		ImageDigest:     s.cfg.ImageDigest,
		UserPublicKey:   attested,
		ServerPublicKey: key.PublicBytes(),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return key, params.UserPubkey, &response{
		JSONRPC: payload.JSONRPCVersion,
		ID:      payload.HelloID,
		Result:  attestationResult{Attestation: []byte(token)},
	}, nil
}

func (s *Server) submit(req request, key *tee.KeyPair, userKey []byte) (*response, error) {
	if key == nil {
		return nil, errors.New("submit before hello")
	}

	params := payload.SubmitParams{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, err
	}

	shared, err := key.SharedSecret(userKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := payload.Decrypt(shared, &payload.Encrypted{
		Nonce:      params.Nonce,
		CipherText: params.CipherText,
		AuthTag:    params.AuthTag,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.submissions = append(s.submissions, Submission{SessionID: params.UUID, Payload: plaintext})
	s.mu.Unlock()

	if s.cfg.SubmitError != "" {
		return nil, errors.New(s.cfg.SubmitError)
	}

	id := params.UUID
	if s.cfg.EchoID != "" {
		id = s.cfg.EchoID
	}

	return &response{JSONRPC: payload.JSONRPCVersion, ID: payload.SubmitID, Result: id}, nil
}

func (s *Server) relay(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	defer c.Close(websocket.StatusNormalClosure, "") // nolint:errcheck

	ctx := r.Context()

	if c.Write(ctx, websocket.MessageText, []byte(`0{"sid":"relay","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`)) != nil { // nolint:lll
		return
	}

	if _, msg, err := c.Read(ctx); err != nil || string(msg) != "40" {
		return
	}

	if c.Write(ctx, websocket.MessageText, []byte(`40{"sid":"relay-ns"}`)) != nil {
		return
	}

	_, msg, err := c.Read(ctx)
	if err != nil {
		return
	}

	id, err := subscription(msg)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.subscriptions = append(s.subscriptions, id)
	s.mu.Unlock()

	if s.cfg.DropRelayAfterSubscribe {
		return
	}

	if s.cfg.StatusDelay > 0 {
		select {
		case <-time.After(s.cfg.StatusDelay):
		case <-ctx.Done():
			return
		}
	}

	for _, st := range s.cfg.Statuses {
		if c.Write(ctx, websocket.MessageText, []byte(`42["status",`+st+`]`)) != nil {
			return
		}
	}

	drain(ctx, c)
}

func subscription(msg []byte) (string, error) {
	if !strings.HasPrefix(string(msg), "42") {
		return "", fmt.Errorf("unexpected packet %q", string(msg))
	}

	var args []string
	if err := json.Unmarshal(msg[2:], &args); err != nil {
		return "", err
	}

	if len(args) != 2 || args[0] != "subscribe" {
		return "", fmt.Errorf("unexpected event %q", string(msg))
	}

	return args[1], nil
}

func drain(ctx context.Context, c *websocket.Conn) {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
	}
}

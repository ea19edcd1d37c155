/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/commitment"
	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/payload"
	"github.com/idproof/proving-agent/pkg/proving/state"
	"github.com/idproof/proving-agent/pkg/protocol"
	"github.com/idproof/proving-agent/pkg/tee"
	"github.com/idproof/proving-agent/pkg/transport/socketio"
	"github.com/idproof/proving-agent/pkg/transport/ws"
)

const (
	statusEventName    = "status"
	subscribeEventName = "subscribe"
)

// enter runs the entry handler of st. It returns the next event, or an empty event while waiting for I/O.
func (s *session) enter(st state.State) (state.Event, *Error) { // nolint:gocyclo
	switch st {
	case state.ParsingIDDocument:
		return s.parseIDDocument()
	case state.FetchingData:
		return s.fetchData()
	case state.ValidatingDocument:
		return s.validateDocument()
	case state.InitTEEConnexion:
		return s.connect()
	case state.ReadyToProve:
		if s.userConfirmed {
			return s.startProving()
		}

		logger.Infof("session %d: waiting for the holder's confirmation", s.id)
	case state.Proving:
		s.armTimer(state.Proving, s.svc.proveTimeout)
	case state.PostProving:
		return s.postProving()
	case state.Completed:
		s.completed()
	case state.Error, state.Failure:
		s.ended()
	case state.PassportNotSupported:
		s.lifecycle(PassportNotSupported)
	case state.AccountRecoveryChoice:
		s.lifecycle(AccountRecoveryRequired)
	case state.PassportDataNotFound:
		s.lifecycle(PassportDataNotFound)
	}

	if st.Terminal() {
		s.closeTransports()
		s.zero()
	}

	return "", nil
}

func (s *session) parseIDDocument() (state.Event, *Error) {
	if s.doc.Category == document.Aadhaar {
		return state.ParseSuccess, nil
	}

	md, err := document.ParseMetadata(s.doc)
	if err != nil {
		return state.ParseError, newError(ParseFailure, err)
	}

	s.doc.Metadata = md

	if err := s.svc.docs.Save(s.doc); err != nil {
		return state.ParseError, newError(ParseFailure, fmt.Errorf("save parsed document: %w", err))
	}

	return state.ParseSuccess, nil
}

func (s *session) fetchData() (state.Event, *Error) {
	if err := s.svc.protocol.Fetch(s.ctx, s.env, s.doc.Category); err != nil {
		return state.FetchError, newError(FetchFailure, err)
	}

	data, err := s.svc.protocol.Data(s.env, s.doc.Category)
	if err != nil {
		return state.FetchError, newError(FetchFailure, err)
	}

	s.data = data

	return state.FetchSuccess, nil
}

func (s *session) validateDocument() (state.Event, *Error) { // nolint:gocyclo
	if s.doc.Metadata == nil && s.doc.Category != document.Aadhaar {
		md, err := document.ParseMetadata(s.doc)
		if err != nil {
			return state.ValidationError, newError(ValidationFailure, err)
		}

		s.doc.Metadata = md
	}

	// documents without a certificate chain register directly.
	if s.circuitType == circuit.DSC && s.doc.Category == document.Aadhaar {
		s.setCircuitType(circuit.Register)
	}

	if !s.supported() {
		return state.NotSupported, nil
	}

	registered, cscaID, err := s.registration()
	if err != nil {
		return state.ValidationError, newError(ValidationFailure, err)
	}

	if registered && cscaID != "" && s.doc.CSCAID != cscaID {
		s.doc.CSCAID = cscaID

		if err := s.svc.docs.Save(s.doc); err != nil {
			return state.ValidationError, newError(ValidationFailure, fmt.Errorf("save document: %w", err))
		}
	}

	if s.circuitType == circuit.Disclose {
		if !registered {
			return state.DataNotFound, nil
		}

		return state.ValidationSuccess, nil
	}

	if registered {
		s.setCircuitType(circuit.Register)

		return state.AlreadyRegistered, nil
	}

	used, err := s.nullified()
	if err != nil {
		return state.ValidationError, newError(ValidationFailure, err)
	}

	if used {
		return state.AccountRecovery, nil
	}

	if s.circuitType == circuit.DSC {
		in, err := s.dscRegistered()
		if err != nil {
			return state.ValidationError, newError(ValidationFailure, err)
		}

		if in {
			s.setCircuitType(circuit.Register)

			if !s.supported() {
				return state.NotSupported, nil
			}
		}
	}

	return state.ValidationSuccess, nil
}

// supported checks the circuit against the deployed circuits. Unsupported documents are forgotten.
func (s *session) supported() bool {
	name, err := circuit.Name(s.circuitType, s.doc)
	if err == nil && s.data.IsDeployed(s.circuitType, s.doc.Category, name) {
		return true
	}

	if err != nil {
		logger.Warnf("session %d: %v", s.id, err)
	} else {
		logger.Warnf("session %d: circuit %s is not deployed for %s", s.id, name, s.doc.Category)
	}

	if err := s.svc.docs.Clear(); err != nil {
		logger.Errorf("session %d: clear documents: %v", s.id, err)
	}

	return false
}

// registration looks the document commitment up under its own CSCA, then under every alternative CSCA.
// The id of the matching alternative CSCA is returned.
func (s *session) registration() (bool, string, error) {
	tree := s.data.CommitmentTree
	if tree == nil {
		return false, "", payload.ErrCommitmentTreeMissing
	}

	found, err := s.committed(tree, s.doc.CSCA)
	if err != nil || found {
		return found, "", err
	}

	ids := maps.Keys(s.data.AlternativeCSCA)
	slices.Sort(ids)

	for _, id := range ids {
		pem := s.data.AlternativeCSCA[id]
		if pem == s.doc.CSCA {
			continue
		}

		found, err := s.committed(tree, pem)
		if err != nil {
			return false, "", err
		}

		if found {
			return true, id, nil
		}
	}

	return false, "", nil
}

func (s *session) committed(tree *protocol.Tree, cscaPEM string) (bool, error) {
	leaf, err := commitment.Commitment(s.secret, s.doc, cscaPEM)
	if err != nil {
		return false, fmt.Errorf("compute commitment: %w", err)
	}

	return tree.Contains(s.ctx, leaf)
}

func (s *session) nullified() (bool, error) {
	if s.svc.nullifiers == nil {
		logger.Debugf("session %d: no nullifier registry, skipping check", s.id)

		return false, nil
	}

	n, err := commitment.Nullifier(s.doc)
	if err != nil {
		return false, fmt.Errorf("compute nullifier: %w", err)
	}

	return s.svc.nullifiers.IsNullified(s.ctx, s.env, s.doc.Category, n)
}

func (s *session) dscRegistered() (bool, error) {
	if s.data.DSCTree == nil {
		return false, payload.ErrDSCTreeMissing
	}

	leaf, err := commitment.CertificateLeaf(s.doc.DSC)
	if err != nil {
		return false, err
	}

	return s.data.DSCTree.Contains(s.ctx, leaf)
}

func (s *session) connect() (state.Event, *Error) {
	url, err := payload.ResolveEndpoint(s.data, s.circuitType, s.doc)
	if err != nil {
		return state.ConnectError, newError(ConnectionFailure, err)
	}

	s.armTimer(state.InitTEEConnexion, s.svc.connectTimeout)

	s.gen++
	gen := s.gen
	s.channel = tee.NewChannel(s.svc.staticKey)

	ctx, cancel := context.WithTimeout(s.ctx, s.svc.connectTimeout)
	defer cancel()

	conn, err := ws.Dial(ctx, url, func(e ws.Event) {
		s.post(primaryEvent{gen: gen, ev: e})
	})
	if err != nil {
		return state.ConnectError, newError(ConnectionFailure, err)
	}

	s.conn = conn

	return "", nil
}

func (s *session) onPrimary(e ws.Event) (state.Event, *Error) {
	switch e.Kind {
	case ws.EventOpen:
		if s.machine.Current() != state.InitTEEConnexion {
			return "", nil
		}

		s.sessionID = uuid.New().String()

		hello := payload.NewHello(s.sessionID, s.svc.staticKey.PublicBytes())
		if err := s.conn.Send(s.ctx, hello); err != nil {
			return state.ConnectError, newError(ConnectionFailure, err)
		}
	case ws.EventMessage:
		return s.onResponse(e.Data)
	case ws.EventError:
		logger.Warnf("session %d: prover connection error: %v", s.id, e.Err)
	case ws.EventClose:
		return s.primaryLost(fmt.Errorf("prover connection closed (status %d): %v", e.Status, e.Err))
	}

	return "", nil
}

func (s *session) primaryLost(err error) (state.Event, *Error) {
	s.closePrimary()

	switch s.machine.Current() {
	case state.InitTEEConnexion:
		return state.ConnectError, newError(ConnectionFailure, err)
	case state.ReadyToProve, state.Proving:
		return state.ProveError, newError(ProveError, err)
	default:
		return "", nil
	}
}

func (s *session) onResponse(data []byte) (state.Event, *Error) {
	resp, err := payload.ParseResponse(data)
	if err != nil {
		logger.Warnf("session %d: ignoring prover message: %v", s.id, err)

		return "", nil
	}

	current := s.machine.Current()

	switch resp.Kind {
	case payload.ResponseError:
		err := fmt.Errorf("prover error: %s", resp.Error)
		if current == state.InitTEEConnexion {
			return state.ConnectError, newError(ConnectionFailure, err)
		}

		return state.ProveError, newError(ProveError, err)
	case payload.ResponseAttestation:
		if current != state.InitTEEConnexion {
			return "", nil
		}

		if err := s.channel.Establish(resp.Attestation, s.svc.verifier, s.env == protocol.Production); err != nil {
			s.closePrimary()

			return state.ConnectError, newError(ConnectionFailure, err)
		}

		logger.Infof("session %d: attested channel to enclave %s", s.id, s.channel.ImageHash())

		return state.ConnectSuccess, nil
	case payload.ResponseAck:
		if current != state.Proving || s.acked {
			return "", nil
		}

		return s.onAck(resp.SubscriptionID)
	default:
		return "", nil
	}
}

func (s *session) startProving() (state.Event, *Error) {
	key, err := s.channel.SharedKey()
	if err != nil {
		return state.ProveError, newError(ConnectionFailure, err)
	}

	req, err := s.svc.builder.Build(s.ctx, s.circuitType, &payload.Input{
		Document:   s.doc,
		Secret:     s.secret,
		Data:       s.data,
		Disclosure: s.disclosure,
		Now:        time.Now(),
	})
	if err != nil {
		return state.ProveError, newError(PayloadGenerationFailure, err)
	}

	plaintext, err := req.Payload()
	if err != nil {
		return state.ProveError, newError(PayloadGenerationFailure, err)
	}

	enc, err := payload.Encrypt(key, plaintext)
	if err != nil {
		return state.ProveError, newError(PayloadGenerationFailure, err)
	}

	if s.conn == nil {
		return state.ProveError, newError(ConnectionFailure, errors.New("prover connection is closed"))
	}

	if err := s.conn.Send(s.ctx, payload.NewSubmit(s.sessionID, enc)); err != nil {
		return state.ProveError, newError(ConnectionFailure, err)
	}

	s.request = req

	s.svc.telemetry.Track("proof_submitted", map[string]interface{}{
		"session": s.id,
		"circuit": req.CircuitName,
	})

	return state.StartProving, nil
}

// onAck swaps the prover connection for a subscription on the status relay.
func (s *session) onAck(subscriptionID string) (state.Event, *Error) {
	if subscriptionID != s.sessionID {
		if !s.svc.tolerateEcho {
			return state.ProveError, newError(ProveError, fmt.Errorf("%w: sent %s, got %s",
				ErrSessionIDMismatch, s.sessionID, subscriptionID))
		}

		logger.Warnf("session %d: prover acknowledged %s for session %s", s.id, subscriptionID, s.sessionID)
	}

	s.acked = true
	s.closePrimary()

	relay := s.svc.relay(s.request.EndpointKind)

	gen := s.gen

	client, err := socketio.Dial(s.ctx, relay, func(e socketio.Event) {
		s.post(statusEvent{gen: gen, ev: e})
	})
	if err != nil {
		return state.ProveError, newError(ProveError, err)
	}

	s.status = client

	if err := client.Emit(s.ctx, subscribeEventName, subscriptionID); err != nil {
		return state.ProveError, newError(ProveError, err)
	}

	logger.Debugf("session %d: subscribed to %s on %s", s.id, subscriptionID, relay)

	return "", nil
}

func (s *session) onStatus(e socketio.Event) (state.Event, *Error) {
	if s.machine.Current() != state.Proving {
		return "", nil
	}

	switch e.Kind {
	case socketio.EventMessage:
		if e.Name != statusEventName {
			logger.Debugf("session %d: ignoring %s relay event", s.id, e.Name)

			return "", nil
		}

		if len(e.Args) == 0 {
			return s.malformedStatus(fmt.Errorf("%w: no payload", errMalformedStatus))
		}

		ev, err := decodeStatus(e.Args[0])
		if err != nil {
			return s.malformedStatus(err)
		}

		return s.onStatusCode(ev)
	case socketio.EventError:
		return s.malformedStatus(e.Err)
	case socketio.EventDisconnect:
		s.closeStatus()

		return state.ProveError, newError(ProveError, fmt.Errorf("status relay disconnected: %v", e.Err))
	default:
		return "", nil
	}
}

func (s *session) onStatusCode(ev *StatusEvent) (state.Event, *Error) {
	switch StatusOutcome(ev.Status) {
	case OutcomeInProgress:
		logger.Debugf("session %d: proof status %d", s.id, ev.Status)

		return "", nil
	case OutcomeSuccess:
		s.closeStatus()

		return state.ProveSuccess, nil
	case OutcomeFailure:
		s.closeStatus()
		s.failure = &Failure{ErrorCode: ev.ErrorCode, Reason: ev.Reason}

		return state.ProveFailure, newError(ProveFailure, fmt.Errorf("proof rejected: %s %s", ev.ErrorCode, ev.Reason))
	case OutcomeRetryable:
		s.closeStatus()

		return state.ProveError, newError(ProveError, fmt.Errorf("prover status %d: %s %s", ev.Status,
			ev.ErrorCode, ev.Reason))
	default:
		return s.malformedStatus(fmt.Errorf("%w: unknown status %d", errMalformedStatus, ev.Status))
	}
}

// malformedStatus ends the proof attempt but leaves the relay subscription to the session teardown.
func (s *session) malformedStatus(err error) (state.Event, *Error) {
	logger.Warnf("session %d: %v", s.id, err)

	return state.ProveError, newError(ProveError, err)
}

func (s *session) postProving() (state.Event, *Error) {
	s.closeTransports()

	if s.circuitType != circuit.DSC {
		return state.CompletedEvent, nil
	}

	s.chainTimer = time.AfterFunc(s.svc.chainDelay, func() {
		s.svc.chain(s)
	})

	return "", nil
}

func (s *session) completed() {
	switch s.circuitType {
	case circuit.Register:
		if err := s.svc.docs.MarkRegistered(s.doc.ID); err != nil {
			logger.Errorf("session %d: mark document %s registered: %v", s.id, s.doc.ID, err)
		}

		s.lifecycle(AccountVerified)
	case circuit.Disclose:
		s.disclosed(true, "")
	}
}

func (s *session) ended() {
	if s.circuitType != circuit.Disclose {
		return
	}

	reason := ""

	switch {
	case s.failure != nil:
		reason = s.failure.Reason
	case s.view().err != nil:
		reason = s.view().err.Error()
	}

	s.disclosed(false, reason)
}

func (s *session) lifecycle(e LifecycleEvent) {
	s.notify(func(app App) {
		app.OnLifecycleEvent(e)
	})
}

func (s *session) disclosed(ok bool, reason string) {
	s.notify(func(app App) {
		app.OnDiscloseResult(ok, reason)
	})
}

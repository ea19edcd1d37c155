/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proving

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/payload"
	"github.com/idproof/proving-agent/pkg/proving/state"
	"github.com/idproof/proving-agent/pkg/protocol"
	"github.com/idproof/proving-agent/pkg/tee"
	"github.com/idproof/proving-agent/pkg/transport/socketio"
	"github.com/idproof/proving-agent/pkg/transport/ws"
)

// events handled by the session loop.
type (
	confirmEvent struct{}

	timeoutEvent struct {
		state state.State
	}

	// gen tags the connection an event came from. Events of replaced connections are dropped.
	primaryEvent struct {
		gen uint64
		ev  ws.Event
	}

	statusEvent struct {
		gen uint64
		ev  socketio.Event
	}
)

type snapshot struct {
	state       state.State
	circuitType circuit.Type
	failure     *Failure
	err         *Error
}

// session is one proving attempt. Everything below the snapshot is owned by the loop goroutine.
type session struct {
	svc    *Service
	id     uint64
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan interface{}
	done   chan struct{}

	smu  sync.RWMutex
	snap snapshot

	machine       *state.Machine
	circuitType   circuit.Type
	userConfirmed bool
	disclosure    *payload.DisclosureRequest
	pending       *Error

	doc    *document.Document
	secret []byte
	env    protocol.Environment
	data   *protocol.Data

	gen        uint64
	conn       *ws.Conn
	status     *socketio.Client
	channel    *tee.Channel
	sessionID  string
	request    *payload.CircuitRequest
	acked      bool
	failure    *Failure
	timer      *time.Timer
	chainTimer *time.Timer
	notices    []func(App)
}

func newSession(parent context.Context, svc *Service, id uint64, t circuit.Type, confirmed bool,
	o *initOpts) *session {
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)

	return &session{
		svc:           svc,
		id:            id,
		parent:        parent,
		ctx:           ctx,
		cancel:        cancel,
		queue:         make(chan interface{}, queueSize),
		done:          make(chan struct{}),
		snap:          snapshot{state: state.Idle, circuitType: t},
		machine:       state.NewMachine(),
		circuitType:   t,
		userConfirmed: confirmed,
		disclosure:    o.disclosure,
	}
}

// load reads the selected document and the holder secret, and returns the event that leaves idle.
func (s *session) load() state.Event {
	doc, err := s.svc.docs.LoadSelectedDocument()
	if err != nil {
		s.pending = newError(ParseFailure, fmt.Errorf("load selected document: %w", err))

		return state.InitError
	}

	if doc == nil {
		return state.DataNotFound
	}

	secret, err := s.svc.keys.PrivateKey()
	if err != nil {
		s.pending = newError(ValidationFailure, fmt.Errorf("%w: %v", ErrNoSecret, err))

		return state.InitError
	}

	if len(secret) == 0 {
		s.pending = newError(ValidationFailure, ErrNoSecret)

		return state.InitError
	}

	s.doc = doc
	s.secret = append([]byte(nil), secret...)
	s.env = protocol.EnvironmentFor(doc)

	if s.circuitType == circuit.DSC {
		return state.ParseIDDocument
	}

	return state.FetchData
}

func (s *session) run(first state.Event) {
	defer s.deliver()
	defer close(s.done)

	if s.ctx.Err() != nil {
		return
	}

	s.fire(first, s.pending)

	for !s.machine.Current().Terminal() {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.queue:
			s.handle(ev)
		}
	}
}

// stop cancels the session and releases its connections and key material. It must not run on the loop.
func (s *session) stop() {
	s.cancel()
	<-s.done

	if s.chainTimer != nil {
		s.chainTimer.Stop()
	}

	s.stopTimer()
	s.closeTransports()
	s.zero()
}

// post queues ev for the loop. It reports false once the session has ended.
func (s *session) post(ev interface{}) bool {
	if s.ctx.Err() != nil || s.view().state.Terminal() {
		return false
	}

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.queue <- ev:
		return true
	case <-s.ctx.Done():
	case <-s.done:
	}

	return false
}

// notify queues an application callback. Callbacks run in order once the loop has exited.
func (s *session) notify(f func(App)) {
	s.notices = append(s.notices, f)
}

func (s *session) deliver() {
	notices := s.notices
	s.notices = nil

	for _, f := range notices {
		f(s.svc.app)
	}
}

func (s *session) handle(ev interface{}) {
	switch ev := ev.(type) {
	case confirmEvent:
		s.userConfirmed = true

		if s.machine.Current() == state.ReadyToProve {
			s.fire(s.startProving())
		}
	case timeoutEvent:
		s.fire(s.onTimeout(ev.state))
	case primaryEvent:
		if ev.gen != s.gen || s.conn == nil {
			logger.Debugf("session %d: dropping %s event of a closed connection", s.id, ev.ev.Kind)

			return
		}

		s.fire(s.onPrimary(ev.ev))
	case statusEvent:
		if ev.gen != s.gen || s.status == nil {
			return
		}

		s.fire(s.onStatus(ev.ev))
	default:
		logger.Warnf("session %d: unexpected event %T", s.id, ev)
	}
}

// fire applies e and runs the entry handler of each state reached until a handler waits for I/O.
func (s *session) fire(e state.Event, cause *Error) {
	for e != "" {
		to, err := s.machine.Fire(e)
		if err != nil {
			logger.Warnf("session %d: %v", s.id, err)

			return
		}

		s.stopTimer()
		s.entered(to, cause)

		e, cause = s.enter(to)
	}
}

func (s *session) entered(to state.State, cause *Error) {
	s.smu.Lock()
	s.snap.state = to
	s.snap.circuitType = s.circuitType

	if to == state.Error || to == state.Failure {
		s.snap.err = cause
	}

	if to == state.Failure {
		s.snap.failure = s.failure
	}

	snap := s.snap
	s.smu.Unlock()

	if cause != nil && (to == state.Error || to == state.Failure) {
		logger.Warnf("session %d: %s %s: %v", s.id, s.circuitType, to, cause)
	} else {
		logger.Debugf("session %d: %s %s", s.id, s.circuitType, to)
	}

	s.svc.telemetry.Track("proving_state", map[string]interface{}{
		"session": s.id,
		"circuit": string(s.circuitType),
		"state":   string(to),
	})

	s.publish(StateMsg{
		Session:     s.id,
		CircuitType: snap.circuitType,
		StateID:     to,
		Err:         snap.err,
		Failure:     snap.failure,
	})
}

func (s *session) publish(msg StateMsg) {
	for _, ch := range s.svc.msgEvents() {
		select {
		case ch <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *session) view() snapshot {
	s.smu.RLock()
	defer s.smu.RUnlock()

	return s.snap
}

func (s *session) setCircuitType(t circuit.Type) {
	if s.circuitType == t {
		return
	}

	logger.Infof("session %d: proving %s instead of %s", s.id, t, s.circuitType)

	s.circuitType = t

	s.smu.Lock()
	s.snap.circuitType = t
	s.smu.Unlock()
}

func (s *session) armTimer(st state.State, d time.Duration) {
	s.stopTimer()

	if d <= 0 {
		return
	}

	s.timer = time.AfterFunc(d, func() {
		s.post(timeoutEvent{state: st})
	})
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *session) onTimeout(st state.State) (state.Event, *Error) {
	if s.machine.Current() != st {
		return "", nil
	}

	switch st {
	case state.InitTEEConnexion:
		return state.ConnectError, newError(ConnectionFailure, ErrTimeout)
	case state.Proving:
		return state.ProveError, newError(ProveError, ErrTimeout)
	default:
		return "", nil
	}
}

// closeTransports closes both connections. Their pending events become stale.
func (s *session) closeTransports() {
	s.closePrimary()
	s.closeStatus()
}

func (s *session) closePrimary() {
	s.gen++

	if s.conn == nil {
		return
	}

	if err := s.conn.Close(); err != nil {
		logger.Debugf("session %d: close prover connection: %v", s.id, err)
	}

	s.conn = nil
}

func (s *session) closeStatus() {
	s.gen++

	if s.status == nil {
		return
	}

	if err := s.status.Close(); err != nil {
		logger.Debugf("session %d: close status channel: %v", s.id, err)
	}

	s.status = nil
}

func (s *session) zero() {
	s.channel.Zero()

	for i := range s.secret {
		s.secret[i] = 0
	}
}

/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package socketio is a minimal Socket.IO v4 client over the Engine.IO WebSocket transport.
// It joins the default namespace, emits events and reports received events to a sink.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/aries-framework-go/component/log"
	"nhooyr.io/websocket"
)

var logger = log.New("proving-agent/transport/socketio")

// Engine.IO packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// Socket.IO packet types, carried in Engine.IO messages.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

const (
	defaultRetries          = 3
	defaultRetryInterval    = 500 * time.Millisecond
	defaultHandshakeTimeout = 10 * time.Second
)

// ErrConnectRefused is returned when the server rejects the namespace connection.
var ErrConnectRefused = errors.New("socket.io connection refused")

// EventKind of a client event.
type EventKind int

// Client events.
const (
	EventMessage EventKind = iota
	EventError
	EventDisconnect
)

// Event is one client occurrence. Name and Args are set for EventMessage.
type Event struct {
	Kind EventKind
	Name string
	Args []json.RawMessage
	Err  error
}

// Sink receives the events of a client in order.
type Sink func(Event)

// Option configures a Client.
type Option func(*options)

type options struct {
	retries          uint64
	retryInterval    time.Duration
	handshakeTimeout time.Duration
}

// WithRetries sets how many times a failed dial is retried.
func WithRetries(n uint64) Option {
	return func(o *options) {
		o.retries = n
	}
}

// WithRetryInterval sets the wait between dial attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		o.retryInterval = d
	}
}

// WithHandshakeTimeout bounds the Engine.IO and namespace handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = d
	}
}

// Client is a connected Socket.IO client.
type Client struct {
	conn   *websocket.Conn
	sink   Sink
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wmu    sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Dial connects to the Socket.IO server at rawURL and joins the default namespace.
func Dial(ctx context.Context, rawURL string, sink Sink, opts ...Option) (*Client, error) {
	o := &options{
		retries:          defaultRetries,
		retryInterval:    defaultRetryInterval,
		handshakeTimeout: defaultHandshakeTimeout,
	}

	for _, opt := range opts {
		opt(o)
	}

	u, err := EndpointURL(rawURL)
	if err != nil {
		return nil, err
	}

	var conn *websocket.Conn

	err = backoff.Retry(func() error {
		var e error

		conn, e = handshake(ctx, u, o.handshakeTimeout)
		if errors.Is(e, ErrConnectRefused) {
			return backoff.Permanent(e)
		}

		if e != nil {
			logger.Debugf("socket.io dial %s failed: %v", u, e)
		}

		return e
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(o.retryInterval), o.retries), ctx))
	if err != nil {
		return nil, fmt.Errorf("socket.io connect: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	c := &Client{
		conn:   conn,
		sink:   sink,
		ctx:    readCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.listener()

	return c, nil
}

// EndpointURL adds the Engine.IO WebSocket transport query to a relay URL.
func EndpointURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse socket.io url: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported socket.io url scheme %q", u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func handshake(ctx context.Context, u string, timeout time.Duration) (*websocket.Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.Dial(hctx, u, nil) // nolint:bodyclose
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*websocket.Conn, error) {
		_ = conn.Close(websocket.StatusNormalClosure, "handshake failed") // nolint:errcheck

		return nil, err
	}

	_, open, err := conn.Read(hctx)
	if err != nil {
		return fail(fmt.Errorf("read open packet: %w", err))
	}

	if len(open) == 0 || open[0] != eioOpen {
		return fail(fmt.Errorf("unexpected engine.io packet %q", string(open)))
	}

	if err = conn.Write(hctx, websocket.MessageText, []byte{eioMessage, sioConnect}); err != nil {
		return fail(fmt.Errorf("write connect packet: %w", err))
	}

	for {
		_, msg, err := conn.Read(hctx)
		if err != nil {
			return fail(fmt.Errorf("read connect ack: %w", err))
		}

		switch {
		case len(msg) == 1 && msg[0] == eioPing:
			if err = conn.Write(hctx, websocket.MessageText, []byte{eioPong}); err != nil {
				return fail(err)
			}
		case len(msg) >= 2 && msg[0] == eioMessage && msg[1] == sioConnect:
			return conn, nil
		case len(msg) >= 2 && msg[0] == eioMessage && msg[1] == sioConnectError:
			return fail(fmt.Errorf("%w: %s", ErrConnectRefused, string(msg[2:])))
		default:
			return fail(fmt.Errorf("unexpected handshake packet %q", string(msg)))
		}
	}
}

func (c *Client) listener() {
	defer close(c.done)

	for {
		_, msg, err := c.conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				c.emit(Event{Kind: EventError, Err: err})
			}

			c.emit(Event{Kind: EventDisconnect, Err: err})

			return
		}

		if err := c.handle(msg); err != nil {
			c.emit(Event{Kind: EventError, Err: err})
		}
	}
}

func (c *Client) handle(msg []byte) error {
	if len(msg) == 0 {
		return errors.New("empty engine.io packet")
	}

	switch msg[0] {
	case eioPing:
		return c.write(context.Background(), []byte{eioPong})
	case eioClose:
		return c.conn.Close(websocket.StatusNormalClosure, "server closed")
	case eioMessage:
	default:
		logger.Debugf("ignoring engine.io packet %q", string(msg))

		return nil
	}

	if len(msg) < 2 {
		return errors.New("empty socket.io packet")
	}

	switch msg[1] {
	case sioEvent:
		name, args, err := decodeEvent(msg[2:])
		if err != nil {
			return err
		}

		c.emit(Event{Kind: EventMessage, Name: name, Args: args})

		return nil
	case sioDisconnect:
		return c.conn.Close(websocket.StatusNormalClosure, "namespace disconnected")
	default:
		logger.Debugf("ignoring socket.io packet %q", string(msg))

		return nil
	}
}

// decodeEvent parses `["name", args...]`, skipping an optional namespace and ack id.
func decodeEvent(p []byte) (string, []json.RawMessage, error) {
	start := strings.IndexByte(string(p), '[')
	if start < 0 {
		return "", nil, fmt.Errorf("malformed socket.io event %q", string(p))
	}

	var parts []json.RawMessage

	if err := json.Unmarshal(p[start:], &parts); err != nil {
		return "", nil, fmt.Errorf("malformed socket.io event: %w", err)
	}

	if len(parts) == 0 {
		return "", nil, errors.New("socket.io event without name")
	}

	var name string

	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("socket.io event name: %w", err)
	}

	return name, parts[1:], nil
}

func (c *Client) emit(e Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	c.sink(e)
}

func (c *Client) write(ctx context.Context, p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	return c.conn.Write(ctx, websocket.MessageText, p)
}

// Emit sends a named event.
func (c *Client) Emit(ctx context.Context, event string, args ...interface{}) error {
	payload, err := json.Marshal(append([]interface{}{event}, args...))
	if err != nil {
		return fmt.Errorf("marshal socket.io event: %w", err)
	}

	if err := c.write(ctx, append([]byte{eioMessage, sioEvent}, payload...)); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}

	return nil
}

// Done is closed once the client stopped reading.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close leaves the namespace and closes the connection. Events already being delivered may still reach the sink.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = c.write(ctx, []byte{eioMessage, sioDisconnect}) // nolint:errcheck

	err := c.conn.Close(websocket.StatusNormalClosure, "client disconnect")

	c.cancel()

	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
		!errors.Is(err, context.Canceled) && !strings.Contains(err.Error(), "already wrote close") {
		return fmt.Errorf("close socket.io connection: %w", err)
	}

	return nil
}

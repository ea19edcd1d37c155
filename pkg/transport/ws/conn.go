/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ws is the WebSocket transport to the prover. Connection activity is reported as ordered events
// to a single sink instead of per-kind callbacks.
package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperledger/aries-framework-go/component/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	webSocketScheme = "ws"
	readLimit       = 1 << 20
)

var logger = log.New("proving-agent/transport/ws")

// EventKind of a connection event.
type EventKind int

// Connection events.
const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one connection occurrence.
type Event struct {
	Kind   EventKind
	Data   []byte
	Err    error
	Status websocket.StatusCode
}

// Sink receives the events of a connection in order.
type Sink func(Event)

// Conn is a client WebSocket connection.
type Conn struct {
	conn   *websocket.Conn
	sink   Sink
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Accept checks for the url scheme.
func Accept(url string) bool {
	return strings.HasPrefix(url, webSocketScheme)
}

// Dial opens a connection, reports EventOpen and starts reading messages.
func Dial(ctx context.Context, url string, sink Sink) (*Conn, error) {
	if url == "" {
		return nil, errors.New("url is mandatory")
	}

	if !Accept(url) {
		return nil, fmt.Errorf("unsupported websocket url %s", url)
	}

	client, _, err := websocket.Dial(ctx, url, nil) // nolint:bodyclose
	if err != nil {
		return nil, fmt.Errorf("websocket client : %w", err)
	}

	client.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		conn:   client,
		sink:   sink,
		ctx:    readCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.emit(Event{Kind: EventOpen})

	go c.listener()

	return c, nil
}

func (c *Conn) listener() {
	defer close(c.done)

	for {
		_, message, err := c.conn.Read(c.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 {
				c.emit(Event{Kind: EventError, Err: err})
			}

			c.emit(Event{Kind: EventClose, Status: status, Err: err})

			return
		}

		c.emit(Event{Kind: EventMessage, Data: message})
	}
}

func (c *Conn) emit(e Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		logger.Debugf("dropping %s event of closed connection", e.Kind)

		return
	}

	c.sink(e)
}

// Send writes v as a JSON text message.
func (c *Conn) Send(ctx context.Context, v interface{}) error {
	if err := wsjson.Write(ctx, c.conn, v); err != nil {
		return fmt.Errorf("websocket write message : %w", err)
	}

	return nil
}

// Done is closed once the connection stopped reading.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Events already being delivered may still reach the sink.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusNormalClosure, "closing the connection")

	c.cancel()

	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && !isClosedErr(err) {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	return nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "already wrote close") ||
		strings.Contains(err.Error(), "use of closed network connection")
}

/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func startWebSocketServer(t *testing.T, handler func(*testing.T, *websocket.Conn)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		handler(t, c)
	}))

	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echo(_ *testing.T, c *websocket.Conn) {
	ctx := context.Background()

	for {
		mt, message, err := c.Read(ctx)
		if err != nil {
			return
		}

		if err = c.Write(ctx, mt, message); err != nil {
			return
		}
	}
}

func collect() (Sink, <-chan Event) {
	events := make(chan Event, 16)

	return func(e Event) { events <- e }, events
}

func next(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case e := <-events:
		return e
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no event received")
	}

	return Event{}
}

func TestDial(t *testing.T) {
	t.Run("invalid url", func(t *testing.T) {
		sink, _ := collect()

		_, err := Dial(context.Background(), "", sink)
		require.EqualError(t, err, "url is mandatory")

		_, err = Dial(context.Background(), "http://localhost", sink)
		require.Error(t, err)
		require.Contains(t, err.Error(), "unsupported websocket url")
	})

	t.Run("server not reachable", func(t *testing.T) {
		sink, events := collect()

		_, err := Dial(context.Background(), "ws://127.0.0.1:1", sink)
		require.Error(t, err)
		require.Contains(t, err.Error(), "websocket client")
		require.Empty(t, events)
	})

	t.Run("send and receive in order", func(t *testing.T) {
		url := startWebSocketServer(t, echo)
		sink, events := collect()

		c, err := Dial(context.Background(), url, sink)
		require.NoError(t, err)
		require.Equal(t, EventOpen, next(t, events).Kind)

		require.NoError(t, c.Send(context.Background(), map[string]int{"id": 1}))
		require.NoError(t, c.Send(context.Background(), map[string]int{"id": 2}))

		e := next(t, events)
		require.Equal(t, EventMessage, e.Kind)
		require.JSONEq(t, `{"id":1}`, string(e.Data))

		e = next(t, events)
		require.JSONEq(t, `{"id":2}`, string(e.Data))

		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		select {
		case <-c.Done():
		case <-time.After(5 * time.Second):
			require.FailNow(t, "listener did not stop")
		}
	})

	t.Run("remote close is reported", func(t *testing.T) {
		url := startWebSocketServer(t, func(t *testing.T, c *websocket.Conn) {
			require.NoError(t, c.Write(context.Background(), websocket.MessageText, []byte(`{"error":"bye"}`)))
			_ = c.Close(websocket.StatusGoingAway, "shutting down") // nolint:errcheck
		})
		sink, events := collect()

		c, err := Dial(context.Background(), url, sink)
		require.NoError(t, err)

		require.Equal(t, EventOpen, next(t, events).Kind)
		require.Equal(t, EventMessage, next(t, events).Kind)

		e := next(t, events)
		require.Equal(t, EventClose, e.Kind)
		require.Equal(t, websocket.StatusGoingAway, e.Status)

		_ = c.Close() // nolint:errcheck
	})
}

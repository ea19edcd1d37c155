/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package telemetry_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/idproof/proving-agent/pkg/telemetry"
)

type recorder struct {
	mu     sync.Mutex
	names  []string
	block  chan struct{}
	panics bool
}

func (r *recorder) Track(name string, _ map[string]interface{}) {
	if r.block != nil {
		<-r.block
	}

	if r.panics {
		panic("sink failure")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.names = append(r.names, name)
}

func TestAsync(t *testing.T) {
	t.Run("delivers in order", func(t *testing.T) {
		rec := &recorder{}
		a := telemetry.NewAsync(rec, 0)

		a.Track("a", map[string]interface{}{"state": "idle"})
		a.Track("b", nil)
		a.Close()
		a.Close()
		a.Track("after close", nil)

		require.Equal(t, []string{"a", "b"}, rec.names)
	})

	t.Run("never blocks on a slow sink", func(t *testing.T) {
		rec := &recorder{block: make(chan struct{})}
		a := telemetry.NewAsync(rec, 1)

		done := make(chan struct{})

		go func() {
			for i := 0; i < 10; i++ {
				a.Track("event", nil)
			}

			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			require.FailNow(t, "Track blocked")
		}

		require.Positive(t, a.Dropped())

		close(rec.block)
		a.Close()
	})

	t.Run("recovers sink panics", func(t *testing.T) {
		a := telemetry.NewAsync(&recorder{panics: true}, 4)

		a.Track("boom", nil)
		a.Track("boom", nil)
		a.Close()
	})

	t.Run("log and nop sinks", func(t *testing.T) {
		telemetry.LogSink{}.Track("event", map[string]interface{}{"b": 2, "a": 1})
		telemetry.Nop{}.Track("event", nil)
	})
}

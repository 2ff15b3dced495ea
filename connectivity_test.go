/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package floorsync

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/blnkfinance/floorsync/config"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeURL = "https://remote.example.com/rest/v1/"

func TestMonitorNotifiesOnlyOnChange(t *testing.T) {
	m := NewConnectivityMonitor(false)

	var order []string
	m.Subscribe(func(tr Transition) { order = append(order, "first") })
	m.Subscribe(func(tr Transition) { order = append(order, "second") })

	assert.False(t, m.SetOnline(false))
	assert.Empty(t, order)

	assert.True(t, m.SetOnline(true))
	assert.Equal(t, []string{"first", "second"}, order)
	assert.True(t, m.IsOnline())

	assert.False(t, m.SetOnline(true))
	assert.Len(t, order, 2)
}

func TestMonitorUnsubscribe(t *testing.T) {
	m := NewConnectivityMonitor(true)

	var got []Transition
	unsubscribe := m.Subscribe(func(tr Transition) { got = append(got, tr) })

	m.SetOnline(false)
	unsubscribe()
	unsubscribe()
	m.SetOnline(true)

	require.Len(t, got, 1)
	assert.False(t, got[0].Online)
}

func TestMonitorStatusTracksSince(t *testing.T) {
	m := NewConnectivityMonitor(true)
	before := m.Status().Since

	time.Sleep(2 * time.Millisecond)
	m.SetOnline(false)

	status := m.Status()
	assert.False(t, status.Online)
	assert.True(t, status.Since.After(before))
}

func newTestProber(t *testing.T, monitor *ConnectivityMonitor) *Prober {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	return NewProber(monitor, config.SyncConfig{
		ProbeURL:      probeURL,
		ProbeInterval: 20 * time.Millisecond,
		MaxBackoff:    50 * time.Millisecond,
	}, client)
}

func TestProberCheck(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		want      bool
	}{
		{"ok", httpmock.NewStringResponder(http.StatusOK, ""), true},
		{"unauthorized still reachable", httpmock.NewStringResponder(http.StatusUnauthorized, ""), true},
		{"server error", httpmock.NewStringResponder(http.StatusBadGateway, ""), false},
		{"transport failure", httpmock.NewErrorResponder(http.ErrHandlerTimeout), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewConnectivityMonitor(!tt.want)
			p := newTestProber(t, monitor)
			httpmock.RegisterResponder(http.MethodHead, probeURL, tt.responder)

			assert.Equal(t, tt.want, p.Check(context.Background()))
			assert.Equal(t, tt.want, monitor.IsOnline())
		})
	}
}

func TestProberCheckIgnoresCancelledContext(t *testing.T) {
	monitor := NewConnectivityMonitor(true)
	p := newTestProber(t, monitor)
	httpmock.RegisterResponder(http.MethodHead, probeURL, httpmock.NewStringResponder(http.StatusOK, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, p.Check(ctx))
	assert.True(t, monitor.IsOnline())
}

func TestProberLoopRestoresConnectivity(t *testing.T) {
	monitor := NewConnectivityMonitor(false)
	p := newTestProber(t, monitor)
	httpmock.RegisterResponder(http.MethodHead, probeURL, httpmock.NewStringResponder(http.StatusNoContent, ""))

	transitions := make(chan Transition, 1)
	monitor.Subscribe(func(tr Transition) {
		select {
		case transitions <- tr:
		default:
		}
	})

	p.Start(context.Background())
	defer p.Stop()

	select {
	case tr := <-transitions:
		assert.True(t, tr.Online)
	case <-time.After(time.Second):
		t.Fatal("prober never reported online")
	}
	assert.GreaterOrEqual(t, httpmock.GetTotalCallCount(), 1)
}

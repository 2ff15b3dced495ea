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
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/floorsync/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Transition is delivered to subscribers whenever connectivity changes.
type Transition struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// ConnectivityStatus is a snapshot of the monitor.
type ConnectivityStatus struct {
	Online bool      `json:"online"`
	Since  time.Time `json:"since"`
}

// ConnectivityMonitor holds the online/offline state and fans transitions out
// to subscribers. The state is fed by SetOnline, from a Prober or from clients
// reporting their own connectivity.
type ConnectivityMonitor struct {
	mu        sync.Mutex
	online    bool
	since     time.Time
	nextID    int
	listeners map[int]func(Transition)
}

func NewConnectivityMonitor(online bool) *ConnectivityMonitor {
	return &ConnectivityMonitor{
		online:    online,
		since:     time.Now().UTC(),
		listeners: make(map[int]func(Transition)),
	}
}

func (m *ConnectivityMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *ConnectivityMonitor) Status() ConnectivityStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectivityStatus{Online: m.online, Since: m.since}
}

// SetOnline records the current state and reports whether it changed.
// Subscribers run synchronously, in subscription order, only on a change.
func (m *ConnectivityMonitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.since = time.Now().UTC()
	transition := Transition{Online: online, At: m.since}

	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(Transition), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	logrus.WithField("online", online).Info("connectivity changed")
	for _, fn := range listeners {
		fn(transition)
	}
	return true
}

// Subscribe registers fn for every transition and returns a function that removes it.
func (m *ConnectivityMonitor) Subscribe(fn func(Transition)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Prober derives connectivity by probing the remote health URL. While offline it
// probes on an exponential backoff; while online it probes at a fixed interval.
type Prober struct {
	monitor  *ConnectivityMonitor
	client   *http.Client
	url      string
	interval time.Duration
	backoff  *backoff.ExponentialBackOff

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewProber(monitor *ConnectivityMonitor, cfg config.SyncConfig, client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = config.DefaultProbeInterval
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = cfg.MaxBackoff
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = interval
	}
	bo.MaxElapsedTime = 0

	return &Prober{
		monitor:  monitor,
		client:   client,
		url:      cfg.ProbeURL,
		interval: interval,
		backoff:  bo,
	}
}

// Probe reports whether the health URL answered. Any response below 500 counts:
// the network path works even if the endpoint wants credentials.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		logrus.WithError(err).Error("invalid connectivity probe url")
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Check probes once and feeds the result to the monitor.
func (p *Prober) Check(ctx context.Context) bool {
	online := p.Probe(ctx)
	if ctx.Err() != nil {
		return p.monitor.IsOnline()
	}
	p.monitor.SetOnline(online)
	return online
}

func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.WithField("url", p.url).Info("connectivity prober started")
}

func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("connectivity prober stopped")
}

func (p *Prober) run(ctx context.Context) {
	for {
		wait := p.interval
		if p.Check(ctx) {
			p.backoff.Reset()
		} else {
			wait = p.backoff.NextBackOff()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

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

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blnkfinance/floorsync/config"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	cacheStatusHeader  = "X-Floorsync-Cache"
	revalidateTimeout  = 30 * time.Second
	defaultInboxLength = 64
)

const builtinOfflinePage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Offline</title></head>
<body><h1>You are offline</h1><p>Saved submissions will be sent when the connection returns.</p></body></html>
`

// Agent is an http.RoundTripper that decides per request whether a response may
// come from a local cache. It owns an event loop for lifecycle and sync
// messages; other goroutines reach it only through Post and the cache storage.
type Agent struct {
	transport   http.RoundTripper
	storage     Storage
	policy      *Policy
	origin      *url.URL
	prefix      string
	cacheName   string
	manifest    []string
	offlinePage string
	syncTrigger SyncTrigger
	pushHandler PushHandler

	inbox chan Message
	// tags is owned by the event loop goroutine.
	tags map[string]struct{}

	revalidating sync.Map
	wg           sync.WaitGroup
}

type Option func(*Agent)

// WithTransport sets the network transport. Defaults to http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *Agent) { a.transport = rt }
}

// WithStorage sets the cache storage. Defaults to in-memory storage.
func WithStorage(s Storage) Option {
	return func(a *Agent) { a.storage = s }
}

func WithSyncTrigger(trigger SyncTrigger) Option {
	return func(a *Agent) { a.syncTrigger = trigger }
}

func WithPushHandler(handler PushHandler) Option {
	return func(a *Agent) { a.pushHandler = handler }
}

func New(cfg config.AgentConfig, opts ...Option) (*Agent, error) {
	if cfg.Upstream == "" {
		return nil, errors.New("agent upstream is required")
	}
	origin, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid agent upstream: %w", err)
	}
	policy, err := NewPolicy(cfg.SensitivePatterns)
	if err != nil {
		return nil, err
	}

	prefix := cfg.CachePrefix
	if prefix == "" {
		prefix = config.DefaultCachePrefix
	}
	version := cfg.CacheVersion
	if version == "" {
		version = config.DefaultCacheVersion
	}
	offlinePage := cfg.OfflinePage
	if offlinePage == "" {
		offlinePage = config.DefaultOfflinePage
	}

	a := &Agent{
		transport:   http.DefaultTransport,
		storage:     NewMemoryStorage(),
		policy:      policy,
		origin:      origin,
		prefix:      prefix,
		cacheName:   prefix + "-" + version,
		manifest:    cfg.Precache,
		offlinePage: offlinePage,
		pushHandler: logPush,
		inbox:       make(chan Message, defaultInboxLength),
		tags:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// CacheName is the version-tagged name of the current collection.
func (a *Agent) CacheName() string {
	return a.cacheName
}

// Install precaches the manifest into the current collection. Like an atomic
// addAll, nothing is stored unless every asset was fetched.
func (a *Agent) Install(ctx context.Context) error {
	fetched := make(map[string]*CachedResponse, len(a.manifest))
	var errs error
	for _, path := range a.manifest {
		u, err := a.origin.Parse(path)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		resp, err := a.fetch(ctx, u)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("precache %s: %w", path, err))
			continue
		}
		fetched[cacheKey(u)] = resp
	}
	if errs != nil {
		return errs
	}

	coll, err := a.storage.Open(ctx, a.cacheName)
	if err != nil {
		return err
	}
	for key, resp := range fetched {
		if err := coll.Put(ctx, key, resp); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{"cache": a.cacheName, "assets": len(fetched)}).Info("agent installed")
	return nil
}

func (a *Agent) fetch(ctx context.Context, u *url.URL) (*CachedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return snapshot(u, resp, body), nil
}

// Activate deletes every collection except the current one and returns the
// names it removed.
func (a *Agent) Activate(ctx context.Context) ([]string, error) {
	names, err := a.storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, name := range names {
		if name == a.cacheName {
			continue
		}
		if _, err := a.storage.Delete(ctx, name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	if len(deleted) > 0 {
		logrus.WithField("deleted", deleted).Info("agent removed stale caches")
	}
	return deleted, nil
}

// RoundTrip implements http.RoundTripper.
func (a *Agent) RoundTrip(req *http.Request) (*http.Response, error) {
	switch a.policy.Classify(req) {
	case ClassPassThrough:
		return a.transport.RoundTrip(req)
	case ClassNetworkOnly:
		a.purge(req.Context(), cacheKey(req.URL))
		return a.transport.RoundTrip(req)
	default:
		return a.cacheFirst(req)
	}
}

// purge removes key from every collection.
func (a *Agent) purge(ctx context.Context, key string) {
	names, err := a.storage.Keys(ctx)
	if err != nil {
		logrus.WithError(err).Error("failed to list caches for purge")
		return
	}
	for _, name := range names {
		coll, err := a.storage.Open(ctx, name)
		if err != nil {
			logrus.WithError(err).WithField("cache", name).Error("failed to open cache for purge")
			continue
		}
		removed, err := coll.Delete(ctx, key)
		if err != nil {
			logrus.WithError(err).WithField("cache", name).Error("failed to purge sensitive entry")
			continue
		}
		if removed {
			logrus.WithFields(logrus.Fields{"cache": name, "url": key}).Warn("purged cached copy of a sensitive url")
		}
	}
}

func (a *Agent) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := cacheKey(req.URL)

	coll, err := a.storage.Open(ctx, a.cacheName)
	if err != nil {
		logrus.WithError(err).Error("failed to open cache")
	} else {
		cached, err := coll.Match(ctx, key)
		if err != nil {
			logrus.WithError(err).WithField("url", key).Error("cache lookup failed")
		}
		if cached != nil {
			a.revalidate(req, key)
			return cached.Response(req), nil
		}
	}

	resp, err := a.transport.RoundTrip(req)
	if err != nil {
		if isNavigation(req) {
			return a.offline(req), nil
		}
		return nil, err
	}
	if coll == nil || !a.cacheable(req, resp) {
		return resp, nil
	}
	return a.store(ctx, coll, key, req.URL, resp)
}

// cacheable admits successful same-origin GET responses only.
func (a *Agent) cacheable(req *http.Request, resp *http.Response) bool {
	if req.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return false
	}
	if !strings.EqualFold(req.URL.Scheme, a.origin.Scheme) || !strings.EqualFold(req.URL.Host, a.origin.Host) {
		return false
	}
	return !strings.Contains(resp.Header.Get("Cache-Control"), "no-store")
}

func (a *Agent) store(ctx context.Context, coll Collection, key string, u *url.URL, resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if err := coll.Put(ctx, key, snapshot(u, resp, body)); err != nil {
		logrus.WithError(err).WithField("url", key).Error("failed to store response")
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.Header.Set(cacheStatusHeader, "miss")
	return resp, nil
}

// revalidate refreshes key in the background. At most one refresh per key runs.
func (a *Agent) revalidate(req *http.Request, key string) {
	if req.Method != http.MethodGet {
		return
	}
	if _, busy := a.revalidating.LoadOrStore(key, struct{}{}); busy {
		return
	}

	// The caller owns req once RoundTrip returns, so the refresh works on a copy.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), revalidateTimeout)
	refresh := req.Clone(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.revalidating.Delete(key)
		defer cancel()

		resp, err := a.transport.RoundTrip(refresh)
		if err != nil {
			logrus.WithError(err).WithField("url", key).Debug("background refresh failed")
			return
		}
		if !a.cacheable(refresh, resp) {
			_ = resp.Body.Close()
			return
		}
		coll, err := a.storage.Open(ctx, a.cacheName)
		if err != nil {
			_ = resp.Body.Close()
			return
		}
		if _, err := a.store(ctx, coll, key, refresh.URL, resp); err != nil {
			logrus.WithError(err).WithField("url", key).Debug("background refresh not stored")
		}
	}()
}

// offline serves the precached offline page, or a built-in one.
func (a *Agent) offline(req *http.Request) *http.Response {
	ctx := req.Context()
	if u, err := a.origin.Parse(a.offlinePage); err == nil {
		if coll, err := a.storage.Open(ctx, a.cacheName); err == nil {
			if cached, err := coll.Match(ctx, cacheKey(u)); err == nil && cached != nil {
				return cached.Response(req)
			}
		}
	}

	resp := (&CachedResponse{
		StatusCode: http.StatusServiceUnavailable,
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(builtinOfflinePage),
	}).Response(req)
	resp.Header.Set(cacheStatusHeader, "offline")
	return resp
}

// Wait blocks until background refreshes have finished.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// Post delivers msg to the event loop.
func (a *Agent) Post(ctx context.Context, msg Message) error {
	select {
	case a.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterSync records interest in tag so a later ConnectivityRestored wakes it.
func (a *Agent) RegisterSync(ctx context.Context, tag string) error {
	return a.Post(ctx, SyncRegistration{Tag: tag})
}

// Run processes posted messages until ctx is done.
func (a *Agent) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.inbox:
			a.handle(ctx, msg)
		}
	}
}

func (a *Agent) handle(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case SyncRegistration:
		a.tags[m.Tag] = struct{}{}
		logrus.WithField("tag", m.Tag).Info("background sync registered")
	case ConnectivityRestored:
		a.fireSync(ctx)
	case Push:
		var payload PushPayload
		if err := json.Unmarshal(m.Data, &payload); err != nil {
			logrus.WithError(err).Warn("dropping malformed push message")
			return
		}
		if a.pushHandler != nil {
			a.pushHandler(ctx, payload)
		}
	default:
		logrus.WithField("message", msg.messageName()).Warn("unhandled agent message")
	}
}

// fireSync is best effort. A failed trigger is logged and the drain falls back
// on the online transition and manual paths.
func (a *Agent) fireSync(ctx context.Context) {
	if a.syncTrigger == nil {
		return
	}
	tags := make([]string, 0, len(a.tags))
	for tag := range a.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if err := a.syncTrigger(ctx, tag); err != nil {
			logrus.WithError(err).WithField("tag", tag).Warn("background sync trigger failed")
		}
	}
}

func logPush(_ context.Context, payload PushPayload) {
	logrus.WithFields(logrus.Fields{"title": payload.Title, "tag": payload.Tag}).Info("push message received")
}

func snapshot(u *url.URL, resp *http.Response, body []byte) *CachedResponse {
	header := resp.Header.Clone()
	header.Del(cacheStatusHeader)
	return &CachedResponse{
		URL:        u.String(),
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}
}

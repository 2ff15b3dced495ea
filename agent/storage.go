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
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// CachedResponse is a stored copy of a successful upstream response.
type CachedResponse struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Response rebuilds an *http.Response for req from the stored copy.
func (c *CachedResponse) Response(req *http.Request) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(cacheStatusHeader, "hit")
	header.Set("Content-Length", strconv.Itoa(len(c.Body)))

	body := c.Body
	if req.Method == http.MethodHead {
		body = nil
	}
	return &http.Response{
		Status:        strconv.Itoa(c.StatusCode) + " " + http.StatusText(c.StatusCode),
		StatusCode:    c.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// Storage holds named cache collections. One collection exists per deployed
// cache version.
type Storage interface {
	// Open returns the named collection, creating it when missing.
	Open(ctx context.Context, name string) (Collection, error)
	// Delete drops the named collection and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Keys lists collection names.
	Keys(ctx context.Context) ([]string, error)
}

// Collection maps request URLs to stored responses.
type Collection interface {
	// Match returns the stored response for key, or nil on a miss.
	Match(ctx context.Context, key string) (*CachedResponse, error)
	Put(ctx context.Context, key string, resp *CachedResponse) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

type MemoryStorage struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &memoryCollection{entries: make(map[string]*CachedResponse)}
		s.collections[name] = c
	}
	return c, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[name]
	delete(s.collections, name)
	return ok, nil
}

func (s *MemoryStorage) Keys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type memoryCollection struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
}

func (c *memoryCollection) Match(_ context.Context, key string) (*CachedResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *resp
	return &cp, nil
}

func (c *memoryCollection) Put(_ context.Context, key string, resp *CachedResponse) error {
	cp := *resp
	c.mu.Lock()
	c.entries[key] = &cp
	c.mu.Unlock()
	return nil
}

func (c *memoryCollection) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

func (c *memoryCollection) Keys(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

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
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Class is the handling decided for one outbound request.
type Class int

const (
	// ClassPassThrough requests go to the network untouched.
	ClassPassThrough Class = iota
	// ClassNetworkOnly requests are confidential and never touch a cache.
	ClassNetworkOnly
	// ClassCacheFirst requests are static reads served cache-first.
	ClassCacheFirst
)

func (c Class) String() string {
	switch c {
	case ClassPassThrough:
		return "pass-through"
	case ClassNetworkOnly:
		return "network-only"
	case ClassCacheFirst:
		return "cache-first"
	}
	return "unknown"
}

// Policy classifies requests. Rules apply in order: mutating methods, then
// sensitive endpoints, then everything else.
type Policy struct {
	sensitive []*regexp.Regexp
}

func NewPolicy(patterns []string) (*Policy, error) {
	p := &Policy{}
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid sensitive pattern %q: %w", pattern, err)
		}
		p.sensitive = append(p.sensitive, re)
	}
	return p, nil
}

func (p *Policy) Classify(req *http.Request) Class {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return ClassPassThrough
	}
	if p.IsSensitive(req.URL) {
		return ClassNetworkOnly
	}
	return ClassCacheFirst
}

// IsSensitive matches the full URL, so patterns may name hosts as well as paths.
func (p *Policy) IsSensitive(u *url.URL) bool {
	s := u.String()
	for _, re := range p.sensitive {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return req.Method == http.MethodGet && strings.Contains(req.Header.Get("Accept"), "text/html")
}

// cacheKey drops the fragment; everything else in the URL distinguishes entries.
func cacheKey(u *url.URL) string {
	cp := *u
	cp.Fragment = ""
	cp.RawFragment = ""
	return cp.String()
}

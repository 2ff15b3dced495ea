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

package redis_db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// pingTimeout bounds the connection check made when a client is created.
const pingTimeout = 500 * time.Millisecond

// Redis holds the client shared by the queue store, the drain lock and the
// response cache. It works against a single instance or a cluster.
type Redis struct {
	addresses []string
	client    redis.UniversalClient
}

// ParseRedisURL accepts docker style host:port addresses as well as redis://
// and rediss:// URLs, including managed-service URLs whose password carries
// characters url.Parse rejects.
func ParseRedisURL(rawURL string, skipTLSVerify bool) (*redis.Options, error) {
	if rawURL == "" {
		return nil, errors.New("redis address is empty")
	}
	if strings.Count(rawURL, ":") == 1 && !strings.Contains(rawURL, "@") && !strings.Contains(rawURL, "//") {
		return &redis.Options{Addr: rawURL}, nil
	}

	// redis://secret@host:port means a password, not a username.
	if strings.HasPrefix(rawURL, "redis://") && strings.Contains(rawURL, "@") {
		parts := strings.SplitN(strings.TrimPrefix(rawURL, "redis://"), "@", 2)
		if len(parts) == 2 && !strings.Contains(parts[0], ":") {
			rawURL = fmt.Sprintf("redis://:%s@%s", parts[0], parts[1])
		}
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		opts = manualOptions(rawURL)
	}

	if opts.TLSConfig != nil && skipTLSVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return opts, nil
}

func manualOptions(rawURL string) *redis.Options {
	host := strings.TrimPrefix(strings.TrimPrefix(rawURL, "rediss://"), "redis://")
	var password string
	if i := strings.LastIndex(host, "@"); i >= 0 {
		password = strings.TrimPrefix(host[:i], ":")
		host = host[i+1:]
	}

	opts := &redis.Options{Addr: host, Password: password}
	if strings.HasPrefix(rawURL, "rediss://") || strings.Contains(host, "redis.cache.windows.net") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// NewRedisClient connects to one instance, or to a cluster when several
// addresses are given, and pings it before returning.
func NewRedisClient(addresses []string, skipTLSVerify bool) (*Redis, error) {
	if len(addresses) == 0 {
		return nil, errors.New("redis addresses list cannot be empty")
	}

	var client redis.UniversalClient
	if len(addresses) == 1 {
		opts, err := ParseRedisURL(addresses[0], skipTLSVerify)
		if err != nil {
			return nil, err
		}
		client = redis.NewClient(opts)
	} else {
		cluster, err := clusterOptions(addresses, skipTLSVerify)
		if err != nil {
			return nil, err
		}
		client = redis.NewUniversalClient(cluster)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{addresses: addresses, client: client}, nil
}

func clusterOptions(addresses []string, skipTLSVerify bool) (*redis.UniversalOptions, error) {
	cluster := &redis.UniversalOptions{}
	useTLS := false
	for _, addr := range addresses {
		opts, err := ParseRedisURL(addr, skipTLSVerify)
		if err != nil {
			return nil, err
		}
		cluster.Addrs = append(cluster.Addrs, opts.Addr)
		if cluster.Password == "" {
			cluster.Password = opts.Password
		}
		useTLS = useTLS || opts.TLSConfig != nil
	}
	if useTLS {
		cluster.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: skipTLSVerify} //nolint:gosec
	}
	return cluster, nil
}

func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

func (r *Redis) Addresses() []string {
	return r.addresses
}

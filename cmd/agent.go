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

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/blnkfinance/floorsync"
	"github.com/blnkfinance/floorsync/agent"
	"github.com/blnkfinance/floorsync/config"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const maxPushBody = 64 << 10

// syncTrigger prefers a deduplicated worker wake-up and drains in process
// when Redis is not configured.
func syncTrigger(fs *floorsync.FloorSync) agent.SyncTrigger {
	if tasks := fs.Tasks(); tasks != nil {
		return tasks.EnqueueWake
	}
	return func(ctx context.Context, tag string) error {
		return fs.Orchestrator().Wake(ctx, tag).Err
	}
}

func newAgent(b *floorsyncInstance) (*agent.Agent, error) {
	opts := []agent.Option{agent.WithSyncTrigger(syncTrigger(b.fs))}
	if b.cnf.Agent.RedisStorage {
		client := b.fs.Redis()
		if client == nil {
			return nil, fmt.Errorf("agent redis storage needs redis.dns")
		}
		prefix := b.cnf.Agent.CachePrefix
		if prefix == "" {
			prefix = config.DefaultCachePrefix
		}
		opts = append(opts, agent.WithStorage(agent.NewRedisStorage(client, prefix)))
	}
	return agent.New(b.cnf.Agent, opts...)
}

// agentRouter serves the push endpoint and proxies everything else to the
// upstream app through the agent's cache policy.
func agentRouter(a *agent.Agent, upstream *url.URL) *gin.Engine {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.Transport = a

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/_agent/push", func(c *gin.Context) {
		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := a.Post(c.Request.Context(), agent.Push{Data: data}); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusAccepted)
	})
	router.NoRoute(gin.WrapH(proxy))
	return router
}

// agentCommands returns the command that runs the caching proxy in front of the client app.
func agentCommands(b *floorsyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "start the floorsync caching agent",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			withObservability(ctx, b.cnf, func() error {
				a, err := newAgent(b)
				if err != nil {
					return err
				}
				upstream, err := url.Parse(b.cnf.Agent.Upstream)
				if err != nil {
					return err
				}

				if err := a.Install(ctx); err != nil {
					return fmt.Errorf("agent install failed: %v", err)
				}
				removed, err := a.Activate(ctx)
				if err != nil {
					return fmt.Errorf("agent activate failed: %v", err)
				}
				logrus.WithFields(logrus.Fields{"cache": a.CacheName(), "removed": removed}).Info("agent activated")

				go a.Run(ctx)
				if err := a.RegisterSync(ctx, b.cnf.Agent.SyncTag); err != nil {
					return err
				}

				unsubscribe := b.fs.Monitor().Subscribe(func(t floorsync.Transition) {
					if !t.Online {
						return
					}
					go func() {
						if err := a.Post(ctx, agent.ConnectivityRestored{At: t.At}); err != nil {
							logrus.WithError(err).Warn("could not post connectivity restored")
						}
					}()
				})
				defer unsubscribe()

				var prober *floorsync.Prober
				if b.cnf.Sync.ProbeURL != "" {
					prober = floorsync.NewProber(b.fs.Monitor(), b.cnf.Sync, nil)
					prober.Start(ctx)
					defer prober.Stop()
				}

				server := &http.Server{Addr: ":" + b.cnf.Agent.Port, Handler: agentRouter(a, upstream)}
				err = serve(ctx, server)
				a.Wait()
				return err
			})
		},
	}

	return cmd
}

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
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/blnkfinance/floorsync"
	"github.com/blnkfinance/floorsync/api"
	"github.com/blnkfinance/floorsync/config"
	pg_listener "github.com/blnkfinance/floorsync/internal/pg-listener"
	storagemonitor "github.com/blnkfinance/floorsync/internal/storage-monitor"
	trace "github.com/blnkfinance/floorsync/internal/traces"
	"github.com/caddyserver/certmagic"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	recoveryInterval       = time.Minute
	storageCheckInterval   = 5 * time.Minute
	storageUsageThreshold  = 90
	gracefulShutdownPeriod = 10 * time.Second
)

// newHTTPServer builds the listener for the router, backed by CertMagic when SSL is on.
func newHTTPServer(r http.Handler, conf config.ServerConfig) (*http.Server, error) {
	server := &http.Server{Addr: ":" + conf.Port, Handler: r}
	if !conf.SSL {
		return server, nil
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: filepath.Join(".", "certmagic")}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}
	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return nil, err
	}
	server.TLSConfig = cfg.TLSConfig()
	return server, nil
}

// serve runs the server until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			log.Printf("Starting HTTPS server on %s\n", server.Addr)
			err = server.ListenAndServeTLS("", "")
		} else {
			log.Printf("Starting server on http://localhost%s", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func sendHeartbeat(client posthog.Client, heartbeatID string) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		for range ticker.C {
			if err := client.Enqueue(posthog.Capture{
				DistinctId: heartbeatID,
				Event:      "server_heartbeat",
				Properties: map[string]interface{}{
					"timestamp": time.Now().UTC(),
				},
			}); err != nil {
				log.Printf("Failed to send heartbeat: %v", err)
			}
		}
	}()
}

func initializeTracing(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	shutdown, err := trace.SetupOTelSDK(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func initializePostHog() (posthog.Client, string) {
	client, _ := posthog.NewWithConfig("phc_XbsHF5iBSnPiTA96gl7xygazrwBa0r2Ut4vEHoBHNiG",
		posthog.Config{Endpoint: "https://us.i.posthog.com"})
	heartbeatID := uuid.New().String()
	sendHeartbeat(client, heartbeatID)
	return client, heartbeatID
}

func initializeObservability(ctx context.Context, cfg *config.Configuration) (posthog.Client, func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return nil, func(context.Context) error { return nil }, nil
	}

	shutdown, err := initializeTracing(ctx, strings.ToUpper(cfg.ProjectName))
	if err != nil {
		return nil, nil, err
	}

	phClient, _ := initializePostHog()
	return phClient, shutdown, nil
}

// withObservability runs fn with tracing and heartbeats set up as configured.
func withObservability(ctx context.Context, cfg *config.Configuration, fn func() error) {
	phClient, shutdown, err := initializeObservability(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()
	if phClient != nil {
		defer phClient.Close()
	}

	if err := fn(); err != nil {
		log.Fatal(err)
	}
}

// startConnectivity probes the remote store so the monitor tracks reachability
// and a reconnect drains the queue.
func startConnectivity(ctx context.Context, b *floorsyncInstance) (stop func()) {
	unsubscribe := b.fs.Orchestrator().SetupOnlineSync(func(result floorsync.SyncResult) {
		if result.Err != nil {
			logrus.Errorf("reconnect drain failed: %v", result.Err)
		}
	})

	var prober *floorsync.Prober
	if b.cnf.Sync.ProbeURL != "" {
		prober = floorsync.NewProber(b.fs.Monitor(), b.cnf.Sync, nil)
		prober.Start(ctx)
	}

	return func() {
		if prober != nil {
			prober.Stop()
		}
		unsubscribe()
	}
}

// sqlitePath returns the database file behind a sqlite:// DNS, or "".
func sqlitePath(dns string) string {
	if !strings.HasPrefix(dns, "sqlite://") {
		return ""
	}
	path := strings.TrimPrefix(dns, "sqlite://")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	return path
}

func startStorageMonitor(ctx context.Context, b *floorsyncInstance) *storagemonitor.Monitor {
	path := sqlitePath(b.cnf.DataSource.Dns)
	if path == "" {
		return nil
	}
	monitor := storagemonitor.NewMonitor(filepath.Dir(path), storageUsageThreshold, storageCheckInterval, b.fs.Notifier())
	monitor.Start(ctx)
	return monitor
}

// startQueueListener drains submissions other replicas add to a shared Postgres queue.
func startQueueListener(ctx context.Context, b *floorsyncInstance) {
	dns := b.cnf.DataSource.Dns
	if !strings.HasPrefix(dns, "postgres://") && !strings.HasPrefix(dns, "postgresql://") {
		return
	}
	watcher := floorsync.NewQueueWatcher(b.fs, b.cnf.Queue.StorageKey)
	listener := pg_listener.NewDBListener(pg_listener.ListenerConfig{PgConnStr: dns}, watcher)
	go func() {
		if err := listener.Start(ctx); err != nil {
			logrus.WithError(err).Error("queue listener stopped")
		}
	}()
}

// serverCommands returns the command that serves the submission API.
func serverCommands(b *floorsyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start floorsync server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			withObservability(ctx, b.cnf, func() error {
				if err := b.fs.Start(ctx); err != nil {
					return fmt.Errorf("error recovering queue: %v", err)
				}

				stopConnectivity := startConnectivity(ctx, b)
				defer stopConnectivity()

				recovery := floorsync.NewQueueRecoveryProcessor(b.fs, recoveryInterval)
				recovery.Start(ctx)
				defer recovery.Stop()

				startQueueListener(ctx, b)

				if monitor := startStorageMonitor(ctx, b); monitor != nil {
					defer monitor.Stop()
				}

				router := api.NewAPI(b.fs).Router()
				server, err := newHTTPServer(router, b.cnf.Server)
				if err != nil {
					return err
				}
				return serve(ctx, server)
			})
		},
	}

	return cmd
}

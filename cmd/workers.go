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

	"github.com/blnkfinance/floorsync"
	"github.com/blnkfinance/floorsync/config"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.WebhookQueue: 3,
		cfg.Queue.WakeQueue:    1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := floorsync.RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	// One worker keeps wake-ups from racing the in-process drain guard.
	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency: 1,
		Queues:      queues,
	}), nil
}

// processWake drains the queue when a wake-up task arrives.
func (b *floorsyncInstance) processWake(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("floorsync.sync.worker").Start(ctx, "Process Sync Wake")
	defer span.End()

	if err := b.fs.ProcessWake(ctx, t); err != nil {
		logrus.Errorf("sync wake failed: %v", err)
		return err
	}
	return nil
}

func initializeTaskHandlers(b *floorsyncInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(b.cnf.Queue.WebhookQueue, floorsync.ProcessWebhook)
	mux.HandleFunc(floorsync.TypeSyncWake, b.processWake)
}

// workerCommands defines the "workers" command, which delivers webhooks and
// runs background drains.
func workerCommands(b *floorsyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start floorsync workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := b.cnf
			if conf.Redis.Dns == "" {
				log.Fatal(errors.New("workers need a redis connection; set redis.dns"))
			}

			withObservability(ctx, conf, func() error {
				if err := b.fs.Start(ctx); err != nil {
					return fmt.Errorf("error recovering queue: %v", err)
				}

				srv, err := initializeWorkerServer(conf, initializeQueues(conf))
				if err != nil {
					return err
				}

				mux := asynq.NewServeMux()
				initializeTaskHandlers(b, mux)

				redisOption, err := floorsync.RedisClientOpt(conf)
				if err != nil {
					return err
				}
				h := asynqmon.New(asynqmon.Options{
					RootPath:     "/monitoring",
					RedisConnOpt: redisOption,
				})

				go func() {
					monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
					log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
					if err := http.ListenAndServe(monitoringAddr, h); err != nil {
						log.Fatalf("could not start asynqmon server: %v", err)
					}
				}()

				if err := srv.Run(mux); err != nil {
					return fmt.Errorf("could not run server: %v", err)
				}
				return nil
			})
		},
	}

	return cmd
}

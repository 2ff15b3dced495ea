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
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// QueueRecoveryProcessor periodically returns stuck submissions to pending and,
// while online, drains anything still pending so retryable failures are retried
// without waiting for the next connectivity transition.
type QueueRecoveryProcessor struct {
	fs             *FloorSync
	pollInterval   time.Duration
	stuckThreshold time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewQueueRecoveryProcessor(fs *FloorSync, pollInterval time.Duration) *QueueRecoveryProcessor {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &QueueRecoveryProcessor{
		fs:             fs,
		pollInterval:   pollInterval,
		stuckThreshold: 4 * fs.writeTimeout,
		stopCh:         make(chan struct{}),
	}
}

func (p *QueueRecoveryProcessor) Start(ctx context.Context) {
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

	logrus.Info("Queue recovery processor started")
}

func (p *QueueRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Queue recovery processor stopped")
}

func (p *QueueRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *QueueRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Queue recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Queue recovery processor stop signal received")
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

func (p *QueueRecoveryProcessor) processBatch(ctx context.Context) {
	// A running drain owns its syncing item; do not race it.
	if !p.fs.orchestrator.IsDraining() {
		if _, err := p.fs.queue.RecoverStuck(ctx, p.stuckThreshold); err != nil {
			logrus.WithError(err).Error("failed to recover stuck submissions")
			return
		}
	}

	if !p.fs.monitor.IsOnline() {
		return
	}
	stats, err := p.fs.queue.Stats(ctx)
	if err != nil {
		logrus.WithError(err).Error("failed to read queue stats")
		return
	}
	if stats.Pending == 0 {
		return
	}
	result := p.fs.orchestrator.ProcessQueue(ctx)
	if result.Err != nil {
		logrus.WithError(result.Err).Warn("periodic drain finished with errors")
	}
}

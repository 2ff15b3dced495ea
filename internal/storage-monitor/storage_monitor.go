package storagemonitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blnkfinance/floorsync/internal/notification"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// DefaultThreshold is the used-space percentage above which the queue's volume
// is reported as low on storage.
const DefaultThreshold = 90.0

// UsageFunc reports disk usage for the volume holding path.
type UsageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// Monitor watches the volume that holds the queue database and raises a
// storageLow notification before writes start failing with a full disk.
// It reports once per crossing and again only after usage drops back below
// the threshold.
type Monitor struct {
	path      string
	threshold float64
	interval  time.Duration
	sink      notification.Sink
	usage     UsageFunc

	mu      sync.Mutex
	low     bool
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewMonitor(path string, threshold float64, interval time.Duration, sink notification.Sink) *Monitor {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultThreshold
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		path:      path,
		threshold: threshold,
		interval:  interval,
		sink:      sink,
		usage:     disk.UsageWithContext,
	}
}

// Check samples usage once and reports whether the volume is above the threshold.
func (m *Monitor) Check(ctx context.Context) (bool, error) {
	usage, err := m.usage(ctx, m.path)
	if err != nil {
		return false, fmt.Errorf("disk usage for %s: %w", m.path, err)
	}
	low := usage.UsedPercent > m.threshold

	m.mu.Lock()
	crossed := low && !m.low
	m.low = low
	m.mu.Unlock()

	if crossed {
		m.sink.Notify(ctx, notification.Event{
			Type:      notification.EventStorageLow,
			Message:   fmt.Sprintf("queue storage volume is %.1f%% full", usage.UsedPercent),
			Timestamp: time.Now().UTC(),
		})
	}
	return low, nil
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			if _, err := m.Check(ctx); err != nil {
				logrus.WithError(err).Error("storage check failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
}

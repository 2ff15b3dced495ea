package redlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrLockHeld = errors.New("lock already held")

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

type Locker struct {
	client redis.UniversalClient
	key    string
	value  string // Used for ensuring that only the lock holder can unlock or renew the lock
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

func (l *Locker) Lock(ctx context.Context, timeout time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, timeout).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock extension failed for key %s, either lock expired or you're not the holder", l.key)
	}
	return nil
}

// DrainLock keeps queue drains exclusive across processes sharing one store.
// A held lock is renewed every ttl/3 until released, so long drains keep it.
type DrainLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewDrainLock(client redis.UniversalClient, key string, ttl time.Duration) *DrainLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DrainLock{client: client, key: key, ttl: ttl}
}

// TryAcquire takes the lock without waiting. ok is false when another process holds it.
func (d *DrainLock) TryAcquire(ctx context.Context) (release func(), ok bool, err error) {
	locker := NewLocker(d.client, d.key, uuid.NewString())
	if err := locker.Lock(ctx, d.ttl); err != nil {
		if errors.Is(err, ErrLockHeld) {
			return nil, false, nil
		}
		return nil, false, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := locker.ExtendLock(context.Background(), d.ttl); err != nil {
					logrus.WithError(err).Warn("drain lock renewal failed")
					return
				}
			}
		}
	}()

	var once sync.Once
	release = func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.WithError(err).Warn("drain lock release failed")
			}
		})
	}
	return release, true, nil
}

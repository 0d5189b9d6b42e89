/*
Copyright 2024 Stamp Authors.

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

package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("lock is already held")

// Locker is a single instance redis lock. value identifies the holder, so only
// the holder can extend or release it.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
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

func (l *Locker) ExtendLock(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock extension failed for key %s, either lock expired or you're not the holder", l.key)
	}
	return nil
}

// Hold runs fn while owning the lock. The lock is extended every ttl/3; when an
// extension fails the context passed to fn is cancelled. The lock is released
// once fn returns.
func (l *Locker) Hold(ctx context.Context, ttl time.Duration, fn func(ctx context.Context)) error {
	if err := l.Lock(ctx, ttl); err != nil {
		return err
	}

	held, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-held.Done():
				return
			case <-ticker.C:
				if err := l.ExtendLock(held, ttl); err != nil {
					logrus.WithError(err).WithField("key", l.key).Warn("lost lock")
					cancel()
					return
				}
			}
		}
	}()

	fn(held)
	cancel()
	<-done

	releaseCtx, release := context.WithTimeout(context.Background(), time.Second)
	defer release()
	if err := l.Unlock(releaseCtx); err != nil {
		logrus.WithError(err).WithField("key", l.key).Debug("lock already gone on release")
	}
	return nil
}

// RunExclusive keeps trying to Hold the lock, retrying every retry interval,
// until ctx is done. At most one process across the deployment runs fn at a time.
func (l *Locker) RunExclusive(ctx context.Context, ttl, retry time.Duration, fn func(ctx context.Context)) {
	for ctx.Err() == nil {
		err := l.Hold(ctx, ttl, fn)
		if err != nil && !errors.Is(err, ErrLockHeld) {
			logrus.WithError(err).WithField("key", l.key).Error("failed to acquire lock")
		}

		select {
		case <-ctx.Done():
		case <-time.After(retry):
		}
	}
}

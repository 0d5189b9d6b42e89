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

package stamp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/internal/notification"
	"github.com/stamp-registry/stamp/model"
)

const (
	DefaultPolicyName         = "default"
	StillProcessingPolicyName = "still_processing"
)

// RetryPolicy decides whether a failed message is redelivered and when.
type RetryPolicy struct {
	Name        string
	MaxAttempts int
	Initial     time.Duration
	Increment   time.Duration
	Handles     func(error) bool
}

// DefaultPolicy retries every failure except still processing and permanent errors.
func DefaultPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		Name:        DefaultPolicyName,
		MaxAttempts: cfg.DefaultFirstLevelRetryCount,
		Initial:     time.Duration(cfg.DefaultInitialIntervalSeconds) * time.Second,
		Increment:   time.Duration(cfg.DefaultIntervalIncrementSeconds) * time.Second,
		Handles: func(err error) bool {
			return !errors.Is(err, ErrStillProcessing) && !isPermanent(err)
		},
	}
}

// StillProcessingPolicy waits for the registry to commit. It handles nothing else.
func StillProcessingPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		Name:        StillProcessingPolicyName,
		MaxAttempts: cfg.StillProcessingRetryCount,
		Initial:     time.Duration(cfg.StillProcessingInitialSeconds) * time.Second,
		Increment:   time.Duration(cfg.StillProcessingIncrementSeconds) * time.Second,
		Handles: func(err error) bool {
			return errors.Is(err, ErrStillProcessing)
		},
	}
}

// BackOff returns the schedule positioned after the given number of attempts.
func (p RetryPolicy) BackOff(attempts int) *IncrementalBackOff {
	return &IncrementalBackOff{Initial: p.Initial, Increment: p.Increment, MaxAttempts: p.MaxAttempts, attempt: attempts}
}

// IncrementalBackOff waits Initial, then Initial+Increment, Initial+2*Increment and
// so on, and stops after MaxAttempts.
type IncrementalBackOff struct {
	Initial     time.Duration
	Increment   time.Duration
	MaxAttempts int
	attempt     int
}

var _ backoff.BackOff = (*IncrementalBackOff)(nil)

func (b *IncrementalBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.MaxAttempts {
		return backoff.Stop
	}
	delay := b.Initial + time.Duration(b.attempt)*b.Increment
	b.attempt++
	return delay
}

func (b *IncrementalBackOff) Reset() {
	b.attempt = 0
}

// messageHandler consumes one decoded event.
type messageHandler func(ctx context.Context, evt model.Event) error

// withRetry turns a message handler into an asynq handler. A failure handled by
// one of the policies is redelivered by the bus after the policy delay and the
// current delivery succeeds. Anything else is reported and archived by asynq.
func withRetry(bus Bus, policies []RetryPolicy, next messageHandler) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		env, err := decodeEnvelope(task.Payload())
		if err != nil {
			return fail(model.EventKind(task.Type()), err)
		}
		evt, err := env.Event()
		if err != nil {
			return fail(env.Kind, err)
		}

		err = next(ctx, evt)
		if err == nil {
			return nil
		}
		return scheduleRetry(ctx, bus, policies, env, err)
	}
}

func scheduleRetry(ctx context.Context, bus Bus, policies []RetryPolicy, env *Envelope, cause error) error {
	if isPermanent(cause) {
		return fail(env.Kind, cause)
	}

	for _, policy := range policies {
		if !policy.Handles(cause) {
			continue
		}

		attempts := env.Attempts[policy.Name]
		delay := policy.BackOff(attempts).NextBackOff()
		if delay == backoff.Stop {
			break
		}

		env.Attempts[policy.Name] = attempts + 1
		if err := bus.Redeliver(ctx, env, delay); err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id": env.MessageID,
				"kind":       env.Kind,
			}).Errorf("failed to schedule redelivery, leaving it to the queue: %v", err)
			return cause
		}

		messageRetryCounter.WithLabelValues(string(env.Kind), policy.Name).Inc()
		logrus.WithFields(logrus.Fields{
			"message_id": env.MessageID,
			"kind":       env.Kind,
			"policy":     policy.Name,
			"attempt":    attempts + 1,
			"delay":      delay.String(),
		}).Infof("redelivering message: %v", cause)
		return nil
	}

	return fail(env.Kind, cause)
}

func fail(kind model.EventKind, cause error) error {
	err := fmt.Errorf("All retries exhausted for message %s: %w", kind, cause)
	notification.NotifyError(err)
	messageFailedCounter.WithLabelValues(string(kind)).Inc()
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

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
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/stamp-registry/stamp/database"
)

// OutboxRelay moves committed outbox messages onto the bus, oldest first. A
// message is deleted only after it was published, so every message is delivered
// at least once.
type OutboxRelay struct {
	datasource   database.IDataSource
	publisher    Publisher
	pollInterval time.Duration
}

// errUndecodable marks outbox rows whose type or payload cannot be decoded.
type errUndecodable struct {
	err error
}

func (e errUndecodable) Error() string { return e.err.Error() }
func (e errUndecodable) Unwrap() error { return e.err }

// errOutboxUnavailable marks a failure to open the unit of work or read the outbox.
type errOutboxUnavailable struct {
	err error
}

func (e errOutboxUnavailable) Error() string { return e.err.Error() }
func (e errOutboxUnavailable) Unwrap() error { return e.err }

func NewOutboxRelay(datasource database.IDataSource, publisher Publisher, pollInterval time.Duration) *OutboxRelay {
	return &OutboxRelay{datasource: datasource, publisher: publisher, pollInterval: pollInterval}
}

// Run relays until ctx is done. A failed publish, delete or commit is retried
// straight away. An empty or unreadable outbox and an undecodable message wait
// one poll interval.
func (r *OutboxRelay) Run(ctx context.Context) {
	logrus.Info("outbox relay started")
	for {
		if ctx.Err() != nil {
			logrus.Info("outbox relay stopped")
			return
		}

		processed, err := r.RunOnce(ctx)
		if err != nil {
			logrus.WithError(err).Error("failed to relay outbox message")
			if !waitAfter(err) {
				continue
			}
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(r.pollInterval):
		}
	}
}

func waitAfter(err error) bool {
	var undecodable errUndecodable
	var unavailable errOutboxUnavailable
	return errors.As(err, &undecodable) || errors.As(err, &unavailable)
}

// RunOnce relays at most one message and reports whether it did.
func (r *OutboxRelay) RunOnce(ctx context.Context) (bool, error) {
	ctx, span := otel.Tracer("stamp.relay").Start(ctx, "Relay outbox message")
	defer span.End()

	uow := r.datasource.NewUnitOfWork()
	defer func() { _ = uow.Rollback() }()

	msg, err := uow.Outbox().GetFirstNonProcessed(ctx)
	if err != nil {
		return false, errOutboxUnavailable{err: err}
	}
	if msg == nil {
		return false, nil
	}

	evt, err := msg.Event()
	if err != nil {
		return false, errUndecodable{err: errors.Wrapf(err, "outbox message %s", msg.ID)}
	}

	if err := r.publisher.Publish(ctx, evt); err != nil {
		return false, errors.Wrapf(err, "failed to publish outbox message %s of type %s", msg.ID, msg.MessageType)
	}
	if err := uow.Outbox().Delete(ctx, msg.ID); err != nil {
		return false, err
	}
	if err := uow.Commit(); err != nil {
		return false, err
	}

	outboxPublishedCounter.Inc()
	logrus.WithFields(logrus.Fields{"message_id": msg.ID, "type": msg.MessageType}).Debug("outbox message relayed")
	return true, nil
}

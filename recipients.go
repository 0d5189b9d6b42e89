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

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stamp-registry/stamp/internal/apierror"
	"github.com/stamp-registry/stamp/model"
)

// CreateRecipient stores a wallet owner under a fresh id.
func (s *Stamp) CreateRecipient(ctx context.Context, recipient *model.Recipient) (*model.Recipient, error) {
	recipient.ID = uuid.New()

	uow := s.datasource.NewUnitOfWork()
	defer func() { _ = uow.Rollback() }()

	if err := uow.Recipients().Create(ctx, recipient); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to store recipient", err)
	}
	s.cacheRecipient(ctx, recipient)
	return recipient, nil
}

func (s *Stamp) GetRecipient(ctx context.Context, id uuid.UUID) (*model.Recipient, error) {
	return s.lookupRecipient(ctx, id)
}

// Recipients are never updated, so a cached copy stays valid until it expires.
const recipientCacheTTL = time.Hour

func recipientCacheKey(id uuid.UUID) string {
	return "recipient:" + id.String()
}

// lookupRecipient reads through the cache. Cache failures fall back to the database.
func (s *Stamp) lookupRecipient(ctx context.Context, id uuid.UUID) (*model.Recipient, error) {
	if s.cache != nil {
		var cached model.Recipient
		found, err := s.cache.Get(ctx, recipientCacheKey(id), &cached)
		if err != nil {
			logrus.WithError(err).WithField("recipient_id", id).Warn("recipient cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	uow := s.datasource.NewUnitOfWork()
	defer func() { _ = uow.Rollback() }()
	recipient, err := uow.Recipients().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheRecipient(ctx, recipient)
	return recipient, nil
}

func (s *Stamp) cacheRecipient(ctx context.Context, recipient *model.Recipient) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, recipientCacheKey(recipient.ID), recipient, recipientCacheTTL); err != nil {
		logrus.WithError(err).WithField("recipient_id", recipient.ID).Warn("recipient cache write failed")
	}
}

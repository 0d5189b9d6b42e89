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
	"embed"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/database"
	"github.com/stamp-registry/stamp/internal/cache"
	"github.com/stamp-registry/stamp/internal/keys"
	"github.com/stamp-registry/stamp/internal/registry"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

const registryTimeout = 30 * time.Second

// Stamp issues certificates against the registries and withdraws them.
type Stamp struct {
	datasource   database.IDataSource
	bus          Bus
	registry     registry.Client
	registries   config.RegistryConfig
	wallet       WalletSender
	deriver      keys.Deriver
	committer    keys.Committer
	cache        cache.Cache
	retry        config.RetryConfig
	pollInterval time.Duration
}

// Dependencies are the collaborators Stamp talks to. Deriver and Committer
// default to the HKDF deriver and the hash committer. Cache is optional.
type Dependencies struct {
	Bus       Bus
	Registry  registry.Client
	Wallet    WalletSender
	Deriver   keys.Deriver
	Committer keys.Committer
	Cache     cache.Cache
}

// NewStamp wires Stamp from the loaded configuration: an asynq queue, the HTTP
// registry client, the HTTP wallet client and the redis recipient cache.
func NewStamp(db database.IDataSource) (*Stamp, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(conf)
	if err != nil {
		return nil, err
	}
	deps := Dependencies{
		Bus:      queue,
		Registry: registry.NewHTTPClient(conf.Registry.RegistryURL, registryTimeout),
		Wallet:   NewWalletClient(conf.Wallet.Timeout()),
	}
	recipientCache, err := cache.NewCache(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		logrus.WithError(err).Warn("recipient cache disabled")
	} else {
		deps.Cache = recipientCache
	}
	return New(db, conf, deps), nil
}

func New(db database.IDataSource, conf *config.Configuration, deps Dependencies) *Stamp {
	s := &Stamp{
		datasource:   db,
		bus:          deps.Bus,
		registry:     deps.Registry,
		registries:   conf.Registry,
		wallet:       deps.Wallet,
		deriver:      deps.Deriver,
		committer:    deps.Committer,
		cache:        deps.Cache,
		retry:        conf.Retry,
		pollInterval: conf.Outbox.PollInterval(),
	}
	if s.deriver == nil {
		s.deriver = keys.HKDFDeriver{}
	}
	if s.committer == nil {
		s.committer = keys.HashCommitter{}
	}
	return s
}

// Choreography builds the issuance graph over this instance's steps.
func (s *Stamp) Choreography() *Choreography {
	return NewChoreography(s.bus, s.retry, s)
}

// OutboxRelay builds the relay publishing to this instance's bus.
func (s *Stamp) OutboxRelay() *OutboxRelay {
	return NewOutboxRelay(s.datasource, s.bus, s.pollInterval)
}

func (s *Stamp) Close() error {
	if closer, ok := s.bus.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

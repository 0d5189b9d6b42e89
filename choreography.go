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
	"fmt"
	"sort"

	"github.com/hibiken/asynq"

	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/model"
)

// Steps are the consumers of the issuance choreography.
type Steps interface {
	Submit(ctx context.Context, evt model.CertificateCreatedEvent) error
	AwaitCommitment(ctx context.Context, evt model.CertificateSentToRegistryEvent) error
	MarkIssued(ctx context.Context, evt model.CertificateIssuedInRegistryEvent) error
	MarkRejected(ctx context.Context, evt model.CertificateFailedInRegistryEvent) error
	NotifyWallet(ctx context.Context, evt model.CertificateMarkedAsIssuedEvent) error
}

type route struct {
	step     string
	handler  messageHandler
	policies []RetryPolicy
}

// Route describes one edge of the graph: the step consuming a kind and the
// retry policies applied to it, in evaluation order.
type Route struct {
	Kind     model.EventKind
	Step     string
	Policies []string
}

// Choreography maps every event kind to the step consuming it.
type Choreography struct {
	bus    Bus
	routes map[model.EventKind]route
}

func NewChoreography(bus Bus, retry config.RetryConfig, steps Steps) *Choreography {
	defaultPolicy := DefaultPolicy(retry)
	stillProcessing := StillProcessingPolicy(retry)

	return &Choreography{
		bus: bus,
		routes: map[model.EventKind]route{
			model.EventCertificateCreated: {
				step: "Submit", handler: handle(steps.Submit), policies: []RetryPolicy{defaultPolicy},
			},
			model.EventCertificateSentToRegistry: {
				step: "AwaitCommitment", handler: handle(steps.AwaitCommitment), policies: []RetryPolicy{stillProcessing, defaultPolicy},
			},
			model.EventCertificateIssuedInRegistry: {
				step: "MarkIssued", handler: handle(steps.MarkIssued), policies: []RetryPolicy{defaultPolicy},
			},
			model.EventCertificateFailedInRegistry: {
				step: "MarkRejected", handler: handle(steps.MarkRejected), policies: []RetryPolicy{defaultPolicy},
			},
			model.EventCertificateMarkedAsIssued: {
				step: "NotifyWallet", handler: handle(steps.NotifyWallet), policies: []RetryPolicy{defaultPolicy},
			},
		},
	}
}

// handle adapts a typed step to the decoded event.
func handle[T model.Event](step func(context.Context, T) error) messageHandler {
	return func(ctx context.Context, evt model.Event) error {
		typed, ok := evt.(T)
		if !ok {
			return permanent(fmt.Errorf("unexpected payload %T", evt))
		}
		return step(ctx, typed)
	}
}

// Routes lists the graph ordered by kind.
func (c *Choreography) Routes() []Route {
	routes := make([]Route, 0, len(c.routes))
	for kind, r := range c.routes {
		names := make([]string, 0, len(r.policies))
		for _, p := range r.policies {
			names = append(names, p.Name)
		}
		routes = append(routes, Route{Kind: kind, Step: r.step, Policies: names})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Kind < routes[j].Kind })
	return routes
}

// Handler returns the asynq handler for kind, or nil when no step consumes it.
func (c *Choreography) Handler(kind model.EventKind) asynq.Handler {
	r, ok := c.routes[kind]
	if !ok {
		return nil
	}
	return withRetry(c.bus, r.policies, r.handler)
}

// Register installs every route on the mux.
func (c *Choreography) Register(mux *asynq.ServeMux) {
	for kind := range c.routes {
		mux.Handle(string(kind), c.Handler(kind))
	}
}

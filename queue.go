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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/stamp-registry/stamp/config"
	redis_db "github.com/stamp-registry/stamp/internal/redis-db"
	"github.com/stamp-registry/stamp/model"
)

// Publisher hands an event to the consumers of its kind.
type Publisher interface {
	Publish(ctx context.Context, evt model.Event) error
}

// Bus is a Publisher that can also schedule a later redelivery of a consumed envelope.
type Bus interface {
	Publisher
	Redeliver(ctx context.Context, env *Envelope, delay time.Duration) error
}

// Envelope is the task payload on the queue. Attempts counts the redeliveries
// already scheduled by each retry policy.
type Envelope struct {
	MessageID uuid.UUID       `json:"message_id"`
	Kind      model.EventKind `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  map[string]int  `json:"attempts,omitempty"`
}

func NewEnvelope(evt model.Event) (*Envelope, error) {
	kind, payload, err := model.EncodeEvent(evt)
	if err != nil {
		return nil, err
	}
	return &Envelope{MessageID: uuid.New(), Kind: kind, Payload: payload, Attempts: map[string]int{}}, nil
}

func (e *Envelope) Event() (model.Event, error) {
	return model.DecodeEvent(e.Kind, e.Payload)
}

func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Attempts == nil {
		env.Attempts = map[string]int{}
	}
	return &env, nil
}

// Queue is the asynq backed Bus. The task type is the event kind.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	name      string
	maxRetry  int
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		name:      conf.Queue.Name,
		maxRetry:  conf.Queue.MaxEnqueueRetry,
	}, nil
}

// Name is the asynq queue all choreography tasks go through.
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) Publish(ctx context.Context, evt model.Event) error {
	env, err := NewEnvelope(evt)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, env)
}

func (q *Queue) Redeliver(ctx context.Context, env *Envelope, delay time.Duration) error {
	return q.enqueue(ctx, env, asynq.ProcessIn(delay))
}

func (q *Queue) enqueue(ctx context.Context, env *Envelope, opts ...asynq.Option) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	taskOptions := append([]asynq.Option{asynq.Queue(q.name), asynq.MaxRetry(q.maxRetry)}, opts...)
	info, err := q.Client.EnqueueContext(ctx, asynq.NewTask(string(env.Kind), payload), taskOptions...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", env.Kind, err)
	}

	logrus.WithFields(logrus.Fields{
		"message_id": env.MessageID,
		"kind":       env.Kind,
		"task_id":    info.ID,
	}).Debug("message enqueued")
	return nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

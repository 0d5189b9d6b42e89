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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stamp-registry/stamp/config"
	redlock "github.com/stamp-registry/stamp/internal/lock"
	"github.com/stamp-registry/stamp/internal/notification"
	redis_db "github.com/stamp-registry/stamp/internal/redis-db"
)

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	redisOption, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency:  conf.Queue.Concurrency,
		Queues:       map[string]int{conf.Queue.Name: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(logTaskFailure),
	}), nil
}

// logTaskFailure reports a failed task. Tasks the handler gave up on with
// asynq.SkipRetry were already notified by the handler.
func logTaskFailure(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	entry := logrus.WithFields(logrus.Fields{"task_type": task.Type(), "retry": retried, "max_retry": maxRetry}).WithError(err)

	skipped := errors.Is(err, asynq.SkipRetry)
	if !taskArchived(skipped, retried, maxRetry) {
		entry.Warn("task failed")
		return
	}
	entry.Error("task archived")
	if !skipped {
		notification.NotifyError(fmt.Errorf("task %s archived: %w", task.Type(), err))
	}
}

// taskArchived reports whether asynq moves the task to the archive instead of
// scheduling another retry.
func taskArchived(skipRetry bool, retried, maxRetry int) bool {
	return skipRetry || retried >= maxRetry
}

const (
	relayLockKey = "stamp:outbox-relay"
	relayLockTTL = 15 * time.Second
)

// startRelay runs the outbox relay on exactly one worker process. Each process
// competes for the relay lock and takes over when the holder goes away.
func startRelay(ctx context.Context, b *stampInstance, client *redis_db.Redis, wg *sync.WaitGroup) {
	locker := redlock.NewLocker(client.Client(), relayLockKey, uuid.NewString())
	relay := b.stamp.OutboxRelay()

	wg.Add(1)
	go func() {
		defer wg.Done()
		locker.RunExclusive(ctx, relayLockTTL, b.cnf.Outbox.PollInterval(), relay.Run)
	}()
}

func startMonitoring(conf *config.Configuration) {
	redisOption, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		logrus.WithError(err).Error("asynqmon disabled")
		return
	}

	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOption,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			log.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
}

// workerCommands runs the outbox relay and the choreography consumers.
func workerCommands(b *stampInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start stamp workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conf := b.cnf
			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			defer func() { _ = b.stamp.Close() }()

			redisClient, err := redis_db.NewRedisClient([]string{conf.Redis.Dns}, conf.Redis.SkipTLSVerify)
			if err != nil {
				log.Fatalf("redis unreachable: %v", err)
			}
			defer func() { _ = redisClient.Close() }()

			srv, err := initializeWorkerServer(conf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			b.stamp.Choreography().Register(mux)

			startMonitoring(conf)

			var wg sync.WaitGroup
			startRelay(ctx, b, redisClient, &wg)

			if err := srv.Start(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}

			<-ctx.Done()
			srv.Shutdown()
			wg.Wait()
		},
	}

	return cmd
}

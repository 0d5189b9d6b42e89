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
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stamp-registry/stamp/api"
	"github.com/stamp-registry/stamp/config"
	trace "github.com/stamp-registry/stamp/internal/traces"
)

const shutdownTimeout = 10 * time.Second

func initializeRouter(b *stampInstance) *gin.Engine {
	return api.NewAPI(b.stamp).Router()
}

// initializeObservability sets up the OTel trace and log pipelines when telemetry
// is enabled. The returned shutdown is never nil.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.Telemetry.Enable {
		return func(context.Context) error { return nil }, nil
	}

	shutdown, err := trace.SetupOTelSDK(ctx, cfg.Telemetry, cfg.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on http://localhost:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// serverCommands starts the HTTP API. Issuance intents are only persisted here;
// the choreography runs in `stamp workers`.
func serverCommands(b *stampInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start stamp server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeObservability(ctx, b.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			defer func() { _ = b.stamp.Close() }()

			router := initializeRouter(b)
			if err := startServer(ctx, router, b.cnf.Server); err != nil {
				logrus.Error(err)
			}
		},
	}

	return cmd
}

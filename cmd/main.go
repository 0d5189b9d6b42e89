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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stamp-registry/stamp"
	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/database"
	"github.com/stamp-registry/stamp/internal/notification"
)

// Stamp represents the CLI application, encapsulating the root Cobra command.
type Stamp struct {
	cmd *cobra.Command
}

// stampInstance holds the runtime instance and its configuration.
type stampInstance struct {
	stamp *stamp.Stamp
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and wires the Stamp instance before any command runs.
func preRun(app *stampInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newStamp, err := setupStamp(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.stamp = newStamp
		app.cnf = cnf
		return nil
	}
}

func setupStamp(cfg *config.Configuration) (*stamp.Stamp, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newStamp, err := stamp.NewStamp(db)
	if err != nil {
		return nil, fmt.Errorf("error creating stamp: %v", err)
	}
	return newStamp, nil
}

// NewCLI builds the root command with the server, workers, migrate and config subcommands.
func NewCLI() *Stamp {
	var configFile string
	s := &stampInstance{}

	var rootCmd = &cobra.Command{
		Use:   "stamp",
		Short: "Granular certificate issuance service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./stamp.json", "Configuration file for stamp")
	rootCmd.PersistentPreRunE = preRun(s, &configFile)

	rootCmd.AddCommand(serverCommands(s))
	rootCmd.AddCommand(workerCommands(s))
	rootCmd.AddCommand(migrateCommands(s))
	rootCmd.AddCommand(configCommands(s))

	return &Stamp{cmd: rootCmd}
}

func (w Stamp) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}

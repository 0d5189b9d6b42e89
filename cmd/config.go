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
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/stamp-registry/stamp/config"
)

const redacted = "********"

// redact returns a copy of the configuration safe to print: secrets and issuer
// keys are masked, urls are kept.
func redact(cfg config.Configuration) config.Configuration {
	if cfg.Server.SecretKey != "" {
		cfg.Server.SecretKey = redacted
	}
	keys := make(map[string]string, len(cfg.Registry.IssuerPrivateKeyPems))
	for area := range cfg.Registry.IssuerPrivateKeyPems {
		keys[area] = redacted
	}
	cfg.Registry.IssuerPrivateKeyPems = keys
	return cfg
}

func configCommands(b *stampInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instances computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			data, err := json.MarshalIndent(redact(*b.cnf), "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}

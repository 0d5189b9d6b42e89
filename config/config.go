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

package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT            = "5001"
	DEFAULT_QUEUE_NAME      = "stamp"
	DEFAULT_MONITORING_PORT = "5004"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"STAMP_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"STAMP_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"STAMP_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"STAMP_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"STAMP_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"STAMP_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	Name            string `json:"name" envconfig:"STAMP_QUEUE_NAME"`
	Concurrency     int    `json:"concurrency" envconfig:"STAMP_QUEUE_CONCURRENCY"`
	MonitoringPort  string `json:"monitoring_port" envconfig:"STAMP_QUEUE_MONITORING_PORT"`
	MaxEnqueueRetry int    `json:"max_enqueue_retry" envconfig:"STAMP_QUEUE_MAX_ENQUEUE_RETRY"`
}

type OutboxConfig struct {
	PollIntervalMs int `json:"poll_interval_ms" envconfig:"STAMP_OUTBOX_POLL_INTERVAL_MS"`
}

// RetryConfig holds the two retry tiers applied to consumed messages.
type RetryConfig struct {
	DefaultFirstLevelRetryCount     int `json:"default_first_level_retry_count" envconfig:"STAMP_RETRY_DEFAULT_FIRST_LEVEL_RETRY_COUNT"`
	DefaultInitialIntervalSeconds   int `json:"default_initial_interval_seconds" envconfig:"STAMP_RETRY_DEFAULT_INITIAL_INTERVAL_SECONDS"`
	DefaultIntervalIncrementSeconds int `json:"default_interval_increment_seconds" envconfig:"STAMP_RETRY_DEFAULT_INTERVAL_INCREMENT_SECONDS"`
	StillProcessingRetryCount       int `json:"registry_transaction_still_processing_retry_count" envconfig:"STAMP_RETRY_STILL_PROCESSING_RETRY_COUNT"`
	StillProcessingInitialSeconds   int `json:"registry_transaction_still_processing_initial_interval_seconds" envconfig:"STAMP_RETRY_STILL_PROCESSING_INITIAL_INTERVAL_SECONDS"`
	StillProcessingIncrementSeconds int `json:"registry_transaction_still_processing_interval_increment_seconds" envconfig:"STAMP_RETRY_STILL_PROCESSING_INTERVAL_INCREMENT_SECONDS"`
}

// RegistryConfig maps registry names to base urls and grid areas to issuer keys.
// Issuer keys are base64 encoded PKCS#8 PEM documents.
type RegistryConfig struct {
	RegistryUrls         map[string]string `json:"registry_urls" envconfig:"STAMP_REGISTRY_URLS"`
	IssuerPrivateKeyPems map[string]string `json:"issuer_private_key_pems" envconfig:"STAMP_REGISTRY_ISSUER_PRIVATE_KEY_PEMS"`
}

type WalletConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" envconfig:"STAMP_WALLET_TIMEOUT_SECONDS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"STAMP_NOTIFICATION_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

// RateLimitConfig throttles the HTTP surface. Rate limiting is off unless either
// value is set.
type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"STAMP_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"STAMP_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"STAMP_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

// TelemetryConfig enables trace and log export. Traces go to the OTLP/HTTP
// endpoint, or to the exporter default (localhost:4318) when it is empty.
type TelemetryConfig struct {
	Enable       bool   `json:"enable" envconfig:"STAMP_TELEMETRY_ENABLE"`
	OtlpEndpoint string `json:"otlp_endpoint" envconfig:"STAMP_TELEMETRY_OTLP_ENDPOINT"`
	Insecure     bool   `json:"insecure" envconfig:"STAMP_TELEMETRY_INSECURE"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"STAMP_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Outbox       OutboxConfig     `json:"outbox"`
	Retry        RetryConfig      `json:"retry"`
	Registry     RegistryConfig   `json:"registry"`
	Wallet       WalletConfig     `json:"wallet"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
	Telemetry    TelemetryConfig  `json:"telemetry"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("stamp", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called stamp.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Stamp"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Queue.addDefaults()
	cnf.Retry.addDefaults()

	if cnf.Outbox.PollIntervalMs <= 0 {
		cnf.Outbox.PollIntervalMs = 1000
	}
	if cnf.Wallet.TimeoutSeconds <= 0 {
		cnf.Wallet.TimeoutSeconds = 30
	}

	cnf.RateLimit.addDefaults()

	return nil
}

func (r *RateLimitConfig) addDefaults() {
	if r.RequestsPerSecond != nil && r.Burst == nil {
		defaultBurst := 2 * int(*r.RequestsPerSecond)
		r.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if r.RequestsPerSecond == nil && r.Burst != nil {
		defaultRPS := float64(*r.Burst) / 2
		r.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if r.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		r.CleanupIntervalSec = &defaultCleanup
	}
}

func (q *QueueConfig) addDefaults() {
	if q.Name == "" {
		q.Name = DEFAULT_QUEUE_NAME
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 10
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = DEFAULT_MONITORING_PORT
	}
	if q.MaxEnqueueRetry <= 0 {
		q.MaxEnqueueRetry = 3
	}
}

func (r *RetryConfig) addDefaults() {
	if r.DefaultFirstLevelRetryCount <= 0 {
		r.DefaultFirstLevelRetryCount = 5
	}
	if r.DefaultInitialIntervalSeconds <= 0 {
		r.DefaultInitialIntervalSeconds = 1
	}
	if r.DefaultIntervalIncrementSeconds <= 0 {
		r.DefaultIntervalIncrementSeconds = 180
	}
	if r.StillProcessingRetryCount <= 0 {
		r.StillProcessingRetryCount = 5
	}
	if r.StillProcessingInitialSeconds <= 0 {
		r.StillProcessingInitialSeconds = 1
	}
	if r.StillProcessingIncrementSeconds <= 0 {
		r.StillProcessingIncrementSeconds = 5
	}
}

// PollInterval is the relay sleep between two empty outbox reads.
func (o OutboxConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMs) * time.Millisecond
}

// Timeout bounds a single wallet call.
func (w WalletConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// RegistryURL resolves a registry name, first exactly and then ignoring case.
func (r RegistryConfig) RegistryURL(name string) (string, error) {
	if url, ok := r.RegistryUrls[name]; ok {
		return url, nil
	}
	for known, url := range r.RegistryUrls {
		if strings.EqualFold(known, name) {
			return url, nil
		}
	}
	return "", fmt.Errorf("registry %s not found. Known registries are: %s", name, strings.Join(sortedKeys(r.RegistryUrls), ", "))
}

// IssuerKey returns the decoded PEM of the issuer signing for a grid area.
func (r RegistryConfig) IssuerKey(gridArea string) ([]byte, error) {
	encoded, ok := r.IssuerPrivateKeyPems[gridArea]
	if !ok {
		return nil, fmt.Errorf("Not supported GridArea %s. Supported GridAreas are: %s", gridArea, strings.Join(sortedKeys(r.IssuerPrivateKeyPems), ", "))
	}
	pem, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("issuer key for GridArea %s is not valid base64: %w", gridArea, err)
	}
	return pem, nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}

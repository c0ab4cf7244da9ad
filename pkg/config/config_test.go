package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/email-dispatcher/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name               string
		configContent      string
		path               string
		expectedListenAddr string
		expectedQueue      string
		expectedStore      string
		expectError        bool
	}{
		{
			name: "kafka and mongo",
			configContent: `
server:
  listenAddress: ":8081"
mail:
  host: "smtp.example.com"
  port: 587
queue:
  backend: kafka
  kafka:
    brokers: ["kafka-1:9092", "kafka-2:9092"]
    topic: "mail"
store:
  backend: mongo
  mongo:
    uri: "mongodb://localhost:27017"
`,
			expectedListenAddr: ":8081",
			expectedQueue:      config.QueueKafka,
			expectedStore:      config.StoreMongo,
		},
		{
			name: "minimal config gets defaults",
			configContent: `
mail:
  host: "localhost"
`,
			expectedListenAddr: ":8080",
			expectedQueue:      config.QueueRabbitMQ,
			expectedStore:      config.StoreMemory,
		},
		{
			name:          "invalid YAML",
			configContent: `invalid: yaml: content [`,
			expectError:   true,
		},
		{
			name:        "file not found",
			path:        "/nonexistent/path/config.yaml",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if tt.configContent != "" {
				path = writeConfig(t, tt.configContent)
			}

			cfg, err := config.Load(path)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedListenAddr, cfg.Server.ListenAddress)
			assert.Equal(t, tt.expectedQueue, cfg.Queue.Backend)
			assert.Equal(t, tt.expectedStore, cfg.Store.Backend)
		})
	}
}

func TestLoadDefaultPath(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	_, err = config.Load()
	assert.Error(t, err, "./config.yaml does not exist in an empty directory")
}

func TestApplyDefaults(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, config.TransportSMTP, cfg.Mail.Transport)
	assert.Equal(t, config.DefaultExchange, cfg.Queue.RabbitMQ.Exchange)
	assert.Equal(t, "email-notifications-exchange", cfg.Queue.RabbitMQ.Exchange)
	assert.Equal(t, 1, cfg.Queue.RabbitMQ.Concurrency)
	assert.Equal(t, config.DefaultCollection, cfg.Store.Mongo.Collection)
	assert.Equal(t, config.DefaultConnectTimeout, cfg.Store.Mongo.ConnectTimeout)
	assert.Equal(t, config.DefaultStatusIndex, cfg.Store.Dynamo.StatusIndex)
	assert.Equal(t, 1, cfg.Retry.Workers)
	assert.Zero(t, cfg.Retry.RateLimit)
	assert.NoError(t, cfg.Validate())
}

func TestRetryDurations(t *testing.T) {
	path := writeConfig(t, `
retry:
  interval: "30s"
  initialDelay: "10s"
  workers: 4
  rateLimit: 2.5
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Retry.GetInterval())
	assert.Equal(t, 10*time.Second, cfg.Retry.GetInitialDelay())
	assert.Equal(t, 4, cfg.Retry.Workers)
	assert.InDelta(t, 2.5, cfg.Retry.RateLimit, 0.0001)

	var empty config.Retry
	assert.Equal(t, 5*time.Minute, empty.GetInterval(), "fixed five minute delay by default")
	assert.Zero(t, empty.GetInitialDelay(), "first sweep starts immediately by default")

	bad := config.Retry{Interval: "soon"}
	assert.Equal(t, config.DefaultRetryInterval, bad.GetInterval())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*config.Config) {}},
		{
			name:    "unknown transport",
			mutate:  func(c *config.Config) { c.Mail.Transport = "pigeon" },
			wantErr: `unknown mail.transport "pigeon"`,
		},
		{
			name:    "ses without region",
			mutate:  func(c *config.Config) { c.Mail.Transport = config.TransportSES },
			wantErr: "mail.sesRegion is required",
		},
		{
			name:    "kafka without brokers",
			mutate:  func(c *config.Config) { c.Queue.Backend = config.QueueKafka },
			wantErr: "queue.kafka.brokers must not be empty",
		},
		{
			name:    "unknown queue",
			mutate:  func(c *config.Config) { c.Queue.Backend = "sqs" },
			wantErr: `unknown queue.backend "sqs"`,
		},
		{
			name:    "mongo without uri",
			mutate:  func(c *config.Config) { c.Store.Backend = config.StoreMongo },
			wantErr: "store.mongo.uri is required",
		},
		{
			name:    "dynamo without region",
			mutate:  func(c *config.Config) { c.Store.Backend = config.StoreDynamo },
			wantErr: "store.dynamodb.region is required",
		},
		{
			name:    "unknown store",
			mutate:  func(c *config.Config) { c.Store.Backend = "elasticsearch" },
			wantErr: `unknown store.backend "elasticsearch"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/email-dispatcher/pkg/config"
	"github.com/telekom/email-dispatcher/pkg/utils"
	"github.com/telekom/email-dispatcher/pkg/version"
)

// Options are the flags shared by all commands.
type Options struct {
	Debug      bool
	ConfigPath string
	EnvFile    string

	// Overrides applied on top of the config file when set.
	QueueBackend      string
	StoreBackend      string
	KafkaBrokers      string
	RetryInterval     string
	RetryInitialDelay string
}

type runtime struct {
	opts Options
	cfg  config.Config
	log  *zap.SugaredLogger
	out  io.Writer
}

// NewRootCommand wires all subcommands. out receives command output such as
// the version string or a sweep summary.
func NewRootCommand(out io.Writer) *cobra.Command {
	if out == nil {
		out = os.Stdout
	}
	rt := &runtime{out: out}

	root := &cobra.Command{
		Use:           "email-dispatcher",
		Short:         "Queue driven email delivery with a persistent history and retry sweeps",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return rt.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.log != nil {
				_ = rt.log.Sync()
			}
		},
	}

	// .env must be loaded before the env fallbacks below are read.
	loadEnvFile(getEnvString("EMAIL_DISPATCHER_ENV_FILE", ".env"))

	flags := root.PersistentFlags()
	flags.BoolVar(&rt.opts.Debug, "debug", getEnvBool("EMAIL_DISPATCHER_DEBUG", false),
		"Enable debug level logging and CORS for local frontends")
	flags.StringVar(&rt.opts.ConfigPath, "config-path", getEnvString("EMAIL_DISPATCHER_CONFIG_PATH", "./config.yaml"),
		"Path to the configuration file. A missing file runs with defaults")
	flags.StringVar(&rt.opts.QueueBackend, "queue-backend", getEnvString("QUEUE_BACKEND", ""),
		"Override queue.backend (kafka, rabbitmq)")
	flags.StringVar(&rt.opts.StoreBackend, "store-backend", getEnvString("STORE_BACKEND", ""),
		"Override store.backend (memory, mongo, dynamodb)")
	flags.StringVar(&rt.opts.KafkaBrokers, "kafka-brokers", getEnvString("KAFKA_BROKERS", ""),
		"Override queue.kafka.brokers with a comma separated list")
	flags.StringVar(&rt.opts.RetryInterval, "retry-interval", getEnvString("RETRY_INTERVAL", ""),
		"Override retry.interval (e.g. '5m')")
	flags.StringVar(&rt.opts.RetryInitialDelay, "retry-initial-delay", getEnvString("RETRY_INITIAL_DELAY", ""),
		"Override retry.initialDelay (e.g. '30s')")

	root.AddCommand(
		newServeCommand(rt),
		newSweepCommand(rt),
		newPublishCommand(rt),
		newVersionCommand(rt),
	)
	return root
}

func (rt *runtime) init() error {
	zl, err := utils.SetupLogger(rt.opts.Debug)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	rt.log = zl.Sugar()

	cfg, err := config.Load(rt.opts.ConfigPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		rt.log.Warnw("Config file not found, using defaults", "path", rt.opts.ConfigPath)
		cfg = config.Default()
	case err != nil:
		return err
	}
	rt.cfg = rt.opts.apply(cfg, rt.log)
	if err := rt.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	rt.opts.Print(rt.log)
	return nil
}

// apply overlays flag and environment overrides onto cfg.
func (o Options) apply(cfg config.Config, log *zap.SugaredLogger) config.Config {
	if o.QueueBackend != "" {
		cfg.Queue.Backend = o.QueueBackend
	}
	if o.StoreBackend != "" {
		cfg.Store.Backend = o.StoreBackend
	}
	if brokers := utils.SplitCSV(o.KafkaBrokers); len(brokers) > 0 {
		cfg.Queue.Kafka.Brokers = brokers
	}
	if o.RetryInterval != "" {
		d, err := parseDuration("retry-interval", o.RetryInterval, cfg.Retry.GetInterval())
		if err != nil {
			log.Warn(err)
		}
		cfg.Retry.Interval = d.String()
	}
	if o.RetryInitialDelay != "" {
		d, err := parseDuration("retry-initial-delay", o.RetryInitialDelay, cfg.Retry.GetInitialDelay())
		if err != nil {
			log.Warn(err)
		}
		cfg.Retry.InitialDelay = d.String()
	}
	return cfg
}

func (o Options) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", o.Debug,
		"config_path", o.ConfigPath,
		"queue_backend", o.QueueBackend,
		"store_backend", o.StoreBackend,
		"kafka_brokers", o.KafkaBrokers,
		"retry_interval", o.RetryInterval,
		"retry_initial_delay", o.RetryInitialDelay,
	)
}

func newVersionCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(rt.out, version.GetBuildInfo().String())
			return err
		},
	}
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "ignoring env file %s: %v\n", path, err)
	}
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil && d >= 0 {
			duration = d
		} else {
			if err == nil {
				err = errors.New("negative duration")
			}
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}
	return duration, nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}

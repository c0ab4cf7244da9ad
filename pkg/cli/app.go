package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/email-dispatcher/pkg/api"
	"github.com/telekom/email-dispatcher/pkg/config"
	"github.com/telekom/email-dispatcher/pkg/dispatch"
	"github.com/telekom/email-dispatcher/pkg/history"
	"github.com/telekom/email-dispatcher/pkg/mail"
	"github.com/telekom/email-dispatcher/pkg/queue"
	"github.com/telekom/email-dispatcher/pkg/retry"
	"github.com/telekom/email-dispatcher/pkg/utils"
)

type closeFunc func(context.Context) error

func noopClose(context.Context) error { return nil }

// openStore connects the configured history backend. Remote backends are
// retried with backoff while they come up.
func openStore(ctx context.Context, cfg config.Store, log *zap.SugaredLogger) (history.Store, closeFunc, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		log.Warn("Using in-memory history store; records are lost on restart")
		return history.NewMemoryStore(), noopClose, nil
	case config.StoreMongo:
		var (
			store      *history.MongoStore
			disconnect closeFunc
		)
		err := utils.RetryWithBackoff(ctx, utils.DefaultRetryConfig(), log, "connect to mongo", func(ctx context.Context) error {
			s, d, err := history.ConnectMongo(ctx, cfg.Mongo, log)
			if err != nil {
				return err
			}
			store, disconnect = s, d
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		return store, disconnect, nil
	case config.StoreDynamo:
		store, err := history.ConnectDynamo(ctx, cfg.Dynamo, log)
		if err != nil {
			return nil, nil, err
		}
		return store, noopClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func openConsumer(ctx context.Context, cfg config.Queue, handler queue.Handler, log *zap.SugaredLogger) (queue.Consumer, closeFunc, error) {
	switch cfg.Backend {
	case config.QueueKafka:
		c, err := queue.DialKafkaConsumer(cfg.Kafka, handler, log)
		if err != nil {
			return nil, nil, err
		}
		return c, noopClose, nil
	case config.QueueRabbitMQ:
		conn, err := queue.DialRabbit(ctx, cfg.RabbitMQ.URL, log)
		if err != nil {
			return nil, nil, err
		}
		c := queue.NewRabbitConsumer(conn.Channel, cfg.RabbitMQ, handler, log)
		return c, func(context.Context) error { return conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func openPublisher(ctx context.Context, cfg config.Queue, log *zap.SugaredLogger) (queue.Publisher, closeFunc, error) {
	switch cfg.Backend {
	case config.QueueKafka:
		p, err := queue.DialKafkaPublisher(cfg.Kafka, log)
		if err != nil {
			return nil, nil, err
		}
		return p, noopClose, nil
	case config.QueueRabbitMQ:
		conn, err := queue.DialRabbit(ctx, cfg.RabbitMQ.URL, log)
		if err != nil {
			return nil, nil, err
		}
		p, err := queue.NewRabbitPublisher(conn.Channel, cfg.RabbitMQ)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return p, func(context.Context) error { return conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func sweeperOptions(cfg config.Retry) retry.Options {
	return retry.Options{
		Interval:     cfg.GetInterval(),
		InitialDelay: cfg.GetInitialDelay(),
		Workers:      cfg.Workers,
		RateLimit:    cfg.RateLimit,
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(rt *runtime) *cobra.Command {
	var disableAPI bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume email requests, run retry sweeps and serve the history API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return serve(ctx, rt, !disableAPI)
		},
	}
	cmd.Flags().BoolVar(&disableAPI, "disable-api", getEnvBool("DISABLE_API", false),
		"Do not start the HTTP history API")
	return cmd
}

func serve(ctx context.Context, rt *runtime, withAPI bool) error {
	log := rt.log
	cfg := rt.cfg

	store, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer closeWithLog(closeStore, log, "history store")

	sender, err := mail.NewSender(ctx, cfg.Mail, log)
	if err != nil {
		return fmt.Errorf("creating mail sender: %w", err)
	}

	dispatcher := dispatch.New(store, sender, log)
	sweeper := retry.New(store, sender, sweeperOptions(cfg.Retry), log)

	consumer, closeConsumer, err := openConsumer(ctx, cfg.Queue, dispatcher.Handle, log)
	if err != nil {
		return fmt.Errorf("opening %s consumer: %w", cfg.Queue.Backend, err)
	}
	defer closeWithLog(closeConsumer, log, "queue connection")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() {
			if err := consumer.Close(); err != nil {
				log.Debugw("Closing consumer", "error", err)
			}
		}()
		if err := consumer.Run(gctx); err != nil {
			return fmt.Errorf("%s consumer: %w", cfg.Queue.Backend, err)
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	if withAPI {
		server := api.NewServer(log.Desugar(), cfg.Server, rt.opts.Debug, store, sweeper)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	log.Infow("Email dispatcher started",
		"queue", cfg.Queue.Backend,
		"store", cfg.Store.Backend,
		"transport", cfg.Mail.Transport,
		"api", withAPI)
	err = g.Wait()
	log.Info("Email dispatcher stopped")
	return err
}

func newSweepCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single retry sweep over all failed emails and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			store, closeStore, err := openStore(ctx, rt.cfg.Store, rt.log)
			if err != nil {
				return fmt.Errorf("opening history store: %w", err)
			}
			defer closeWithLog(closeStore, rt.log, "history store")

			sender, err := mail.NewSender(ctx, rt.cfg.Mail, rt.log)
			if err != nil {
				return fmt.Errorf("creating mail sender: %w", err)
			}
			sum, err := retry.New(store, sender, sweeperOptions(rt.cfg.Retry), rt.log).RunOnce(ctx)
			if encErr := json.NewEncoder(rt.out).Encode(sum); encErr != nil {
				err = errors.Join(err, encErr)
			}
			return err
		},
	}
}

func newPublishCommand(rt *runtime) *cobra.Command {
	var msg queue.EmailMessage
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one email request to the configured queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			pub, closeConn, err := openPublisher(ctx, rt.cfg.Queue, rt.log)
			if err != nil {
				return fmt.Errorf("opening %s publisher: %w", rt.cfg.Queue.Backend, err)
			}
			defer closeWithLog(closeConn, rt.log, "queue connection")
			defer func() { _ = pub.Close() }()

			if err := pub.Publish(ctx, msg); err != nil {
				return err
			}
			rt.log.Infow("Published email request", "recipient", msg.Recipient, "queue", rt.cfg.Queue.Backend)
			return nil
		},
	}
	cmd.Flags().StringVar(&msg.Recipient, "recipient", "", "Recipient address")
	cmd.Flags().StringVar(&msg.Subject, "subject", "", "Subject line")
	cmd.Flags().StringVar(&msg.Body, "body", "", "Plain text body")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func closeWithLog(fn closeFunc, log *zap.SugaredLogger, what string) {
	if err := fn(context.Background()); err != nil {
		log.Warnw("Failed to close "+what, "error", err)
	}
}

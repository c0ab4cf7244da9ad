// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package retry periodically re-attempts delivery of every email whose last
// attempt failed.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/telekom/email-dispatcher/pkg/delivery"
	"github.com/telekom/email-dispatcher/pkg/history"
	"github.com/telekom/email-dispatcher/pkg/mail"
	"github.com/telekom/email-dispatcher/pkg/metrics"
	"github.com/telekom/email-dispatcher/pkg/system"
)

const DefaultInterval = 5 * time.Minute

// ErrSweepInProgress is returned by RunOnce while another sweep is running.
var ErrSweepInProgress = errors.New("retry sweep already in progress")

// Options tune a Sweeper. Zero values select the defaults.
type Options struct {
	// Interval is the pause between the end of one sweep and the start of the next.
	Interval     time.Duration
	InitialDelay time.Duration
	// Workers bounds how many records are retried concurrently.
	Workers int
	// RateLimit caps retry sends per second. 0 means unlimited.
	RateLimit float64
}

// Summary describes one completed sweep.
type Summary struct {
	Found         int           `json:"found"`
	Sent          int           `json:"sent"`
	Failed        int           `json:"failed"`
	PersistFailed int           `json:"persistFailed"`
	Duration      time.Duration `json:"duration"`
}

type Sweeper struct {
	store   history.Store
	sender  mail.Sender
	opts    Options
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	running atomic.Bool
	now     func() time.Time
}

func New(store history.Store, sender mail.Sender, opts Options, log *zap.SugaredLogger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	s := &Sweeper{
		store:  store,
		sender: sender,
		opts:   opts,
		log:    log.Named("retry-sweeper"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return s
}

// Start waits for the initial delay and then sweeps until ctx is cancelled,
// pausing Interval after each sweep completes.
func (s *Sweeper) Start(ctx context.Context) {
	s.log.Infow("Retry sweeper starting",
		"initialDelay", s.opts.InitialDelay.String(),
		"interval", s.opts.Interval.String(),
		"workers", s.opts.Workers)

	if !wait(ctx, s.opts.InitialDelay) {
		s.log.Info("Retry sweeper stopping (context canceled)")
		return
	}
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrSweepInProgress) {
				s.log.Debug("Skipping scheduled sweep, another sweep is running")
			} else {
				s.log.Errorw("Retry sweep finished with errors", "error", err)
			}
		}
		if !wait(ctx, s.opts.Interval) {
			s.log.Info("Retry sweeper stopping (context canceled)")
			return
		}
	}
}

// RunOnce retries every ERROR record once. Each record is saved after its
// attempt whatever happens during the send, and a record that cannot be saved
// does not stop the others. Save failures are joined into the returned error.
func (s *Sweeper) RunOnce(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		return Summary{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	recs, err := s.store.FindByStatus(ctx, history.StatusError)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("query_failed").Inc()
		return Summary{}, fmt.Errorf("listing failed emails: %w", err)
	}

	sum := Summary{Found: len(recs)}
	if len(recs) == 0 {
		s.log.Debug("No failed emails to retry")
		sum.Duration = time.Since(start)
		metrics.SweepRuns.WithLabelValues("completed").Inc()
		return sum, nil
	}
	s.log.Infow("Retrying failed emails", "count", len(recs))

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		rec := rec
		g.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			status, err := s.retryRecord(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if status == history.StatusSent {
				sum.Sent++
			} else {
				sum.Failed++
			}
			if err != nil {
				sum.PersistFailed++
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = time.Since(start)
	metrics.SweepDuration.Observe(sum.Duration.Seconds())
	if len(errs) > 0 {
		metrics.SweepRuns.WithLabelValues("persist_failed").Inc()
	} else {
		metrics.SweepRuns.WithLabelValues("completed").Inc()
	}
	s.log.Infow("Retry sweep finished",
		"found", sum.Found,
		"sent", sum.Sent,
		"failed", sum.Failed,
		"persistFailed", sum.PersistFailed,
		"duration", sum.Duration.String())
	return sum, errors.Join(errs...)
}

// retryRecord makes one attempt for rec. The deferred save runs on every exit
// path, including a panic, so the attempt is always counted and timestamped.
func (s *Sweeper) retryRecord(ctx context.Context, rec history.EmailHistory) (status history.Status, err error) {
	res := delivery.Failure(mail.NewTransportError(mail.KindSend, "retry attempt did not complete"))
	defer func() {
		if r := recover(); r != nil {
			res = delivery.Failure(mail.NewTransportError(mail.KindPanic, fmt.Sprint(r)))
		}
		next := delivery.RetryAttempt(rec, res, s.now())
		status = next.Status
		metrics.SweepRecords.WithLabelValues(string(next.Status)).Inc()

		// The outcome is persisted even when shutdown cancelled ctx mid-send.
		if serr := s.store.Save(context.WithoutCancel(ctx), next); serr != nil {
			s.log.Errorw("Failed to persist retry outcome", append(system.RecordFields(next), "error", serr)...)
			err = fmt.Errorf("persisting retry of %s: %w", rec.ID, serr)
			return
		}
		if next.Status == history.StatusSent {
			s.log.Infow("Retry succeeded", system.RecordFields(next)...)
		} else {
			s.log.Warnw("Retry failed", system.RecordFields(next)...)
		}
	}()

	res = delivery.Attempt(ctx, s.sender, rec)
	return status, nil
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

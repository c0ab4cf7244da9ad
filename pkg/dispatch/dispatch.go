// Package dispatch turns inbound email requests into history records and makes
// the first delivery attempt for each of them.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/email-dispatcher/pkg/delivery"
	"github.com/telekom/email-dispatcher/pkg/history"
	"github.com/telekom/email-dispatcher/pkg/mail"
	"github.com/telekom/email-dispatcher/pkg/metrics"
	"github.com/telekom/email-dispatcher/pkg/queue"
	"github.com/telekom/email-dispatcher/pkg/system"
)

type Dispatcher struct {
	store  history.Store
	sender mail.Sender
	log    *zap.SugaredLogger

	now   func() time.Time
	newID func() string
}

func New(store history.Store, sender mail.Sender, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		sender: sender,
		log:    log.Named("dispatcher"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Handle records msg as PENDING, attempts delivery once and records the
// outcome. Delivery failures end up in the record and are not returned; a
// failing store is returned so the queue redelivers the message.
func (d *Dispatcher) Handle(ctx context.Context, msg queue.EmailMessage) error {
	rec := delivery.NewPending(d.newID(), msg.Recipient, msg.Subject, msg.Body, d.now())
	if err := d.store.Save(ctx, rec); err != nil {
		metrics.DispatchOutcomes.WithLabelValues("store_error").Inc()
		return fmt.Errorf("recording pending email for %s: %w", msg.Recipient, err)
	}

	res := delivery.Attempt(ctx, d.sender, rec)
	next := delivery.FirstAttempt(rec, res, d.now())

	if err := d.store.Save(ctx, next); err != nil {
		metrics.DispatchOutcomes.WithLabelValues("store_error").Inc()
		d.log.Errorw("Failed to record delivery outcome", append(system.RecordFields(next), "error", err)...)
		return fmt.Errorf("recording delivery outcome for %s: %w", next.ID, err)
	}

	if res.OK() {
		metrics.DispatchOutcomes.WithLabelValues("sent").Inc()
		d.log.Infow("Email sent", system.RecordFields(next)...)
	} else {
		metrics.DispatchOutcomes.WithLabelValues("error").Inc()
		d.log.Warnw("Email delivery failed, will be retried by the sweeper", system.RecordFields(next)...)
	}
	return nil
}

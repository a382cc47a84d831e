package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/modfin/henry/compare"
	"github.com/sirupsen/logrus"
	"github.com/utskick/utskick"
	"github.com/utskick/utskick/internal/metrics"
	"github.com/utskick/utskick/internal/smtpx"
	"github.com/utskick/utskick/tools"
)

type Config struct {
	BatchSize   int
	Workers     int
	SendTimeout time.Duration
	ClaimLease  time.Duration
}

// Store is the slice of the queue store the processor needs. The store is the
// authority on message status, nothing is cached across invocations.
type Store interface {
	ClaimBatch(token string, limit int, lease time.Duration) ([]utskick.QueuedMessage, error)
	FinishAttempt(messageId, token string, status utskick.Status, attempts int, at time.Time) error
}

type Processor struct {
	cfg    Config
	store  Store
	sender smtpx.Sender
	log    *logrus.Logger
}

// New creates a processor. It holds no timer, every processing round is driven
// by an external trigger through Process.
func New(cfg Config, store Store, sender smtpx.Sender, lc *tools.Logger) *Processor {
	cfg.BatchSize = compare.Coalesce(cfg.BatchSize, 10)
	cfg.Workers = compare.Coalesce(cfg.Workers, 5)
	cfg.SendTimeout = compare.Coalesce(cfg.SendTimeout, 15*time.Second)
	cfg.ClaimLease = compare.Coalesce(cfg.ClaimLease, 2*time.Minute)

	return &Processor{
		cfg:    cfg,
		store:  store,
		sender: sender,
		log:    lc.New("processor"),
	}
}

// Process claims one batch and attempts delivery of every message in it. The
// returned count is the number of messages examined regardless of outcome. A
// store error aborts the round, the still-pending rows are picked up by the
// next trigger.
func (p *Processor) Process(ctx context.Context) (int, error) {
	token := uuid.New().String()

	msgs, err := p.store.ClaimBatch(token, p.cfg.BatchSize, p.cfg.ClaimLease)
	if err != nil {
		return 0, fmt.Errorf("could not claim batch, err %v", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	p.log.WithField("token", token).Infof("claimed %d messages", len(msgs))

	pool := pond.New(p.cfg.Workers, len(msgs))
	for _, msg := range msgs {
		msg := msg
		pool.Submit(func() {
			p.attempt(ctx, token, msg)
		})
	}
	pool.StopAndWait()

	return len(msgs), nil
}

// attempt delivers one message and advances its state. A failure here never
// propagates, the rest of the batch is not its business.
func (p *Processor) attempt(ctx context.Context, token string, msg utskick.QueuedMessage) {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	outcome := utskick.OutcomeDelivered
	err := p.sender.Send(sctx, msg.To, msg.Subject, msg.Body)
	if err != nil {
		outcome = utskick.OutcomeFailed
		metrics.DeliveryFailures.Inc()
		p.log.WithError(err).WithField("id", msg.Id).Warn("delivery attempt failed")
	} else {
		metrics.Delivered.Inc()
	}

	status, attempts := utskick.Transition(msg.Status, msg.Attempts, outcome)
	if status == utskick.StatusFailed {
		metrics.Exhausted.Inc()
		p.log.WithField("id", msg.Id).Warnf("message failed after %d attempts", attempts)
	}

	err = p.store.FinishAttempt(msg.Id, token, status, attempts, time.Now().In(time.UTC))
	if err != nil {
		p.log.WithError(err).WithField("id", msg.Id).Error("could not record attempt")
	}
}

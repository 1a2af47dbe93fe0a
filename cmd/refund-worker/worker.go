package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mwork/booking-ledger/internal/domain/refund"
	"github.com/mwork/booking-ledger/internal/pkg/queue"
)

const (
	errorBackoff = 2 * time.Second
	idleLogEvery = time.Minute
	reclaimEvery = 15 * time.Second
)

type jobHandler interface {
	Handle(ctx context.Context, msg queue.RefundMessage) error
}

type worker struct {
	consumer     queue.Consumer
	handler      jobHandler
	backoff      time.Duration
	reclaimEvery time.Duration
}

func newWorker(consumer queue.Consumer, handler jobHandler) *worker {
	return &worker{consumer: consumer, handler: handler, backoff: errorBackoff, reclaimEvery: reclaimEvery}
}

// run receives jobs until ctx is cancelled. A job is acked when the handler
// returns nil and nacked otherwise, which hands redelivery and dead-lettering
// to the queue.
func (w *worker) run(ctx context.Context) {
	lastIdleLog := time.Time{}
	lastReclaim := time.Time{}
	for {
		if ctx.Err() != nil {
			return
		}

		if r, ok := w.consumer.(queue.Reclaimer); ok && time.Since(lastReclaim) >= w.reclaimEvery {
			if _, err := r.Reclaim(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Queue reclaim failed")
			}
			lastReclaim = time.Now()
		}

		deliveries, err := w.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Queue receive failed")
			w.sleep(ctx)
			continue
		}
		if len(deliveries) == 0 {
			now := time.Now()
			if lastIdleLog.IsZero() || now.Sub(lastIdleLog) >= idleLogEvery {
				log.Debug().Msg("Idle: no refund jobs")
				lastIdleLog = now
			}
			continue
		}

		for _, d := range deliveries {
			w.process(ctx, d)
		}
	}
}

func (w *worker) process(ctx context.Context, d queue.Delivery) {
	start := time.Now()
	logger := log.With().
		Str("refund_id", d.Message.RefundTransactionID).
		Str("transaction_id", d.Message.OriginalTransactionID).
		Int("attempt", d.Attempt).
		Logger()

	err := w.handler.Handle(ctx, d.Message)
	if err == nil {
		// a shutdown mid-job must not strand a finished job in flight
		if ackErr := w.consumer.Ack(context.WithoutCancel(ctx), d); ackErr != nil {
			logger.Error().Err(ackErr).Msg("Failed to ack refund job")
			return
		}
		logger.Info().Dur("took", time.Since(start)).Msg("Refund job done")
		return
	}

	event := logger.Error()
	if errors.Is(err, refund.ErrDeclined) {
		event = logger.Warn()
	}
	event.Err(err).Dur("took", time.Since(start)).Msg("Refund job failed, returning to queue")
	if nackErr := w.consumer.Nack(context.WithoutCancel(ctx), d); nackErr != nil {
		logger.Error().Err(nackErr).Msg("Failed to nack refund job")
	}
}

func (w *worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

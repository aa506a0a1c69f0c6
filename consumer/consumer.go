// Package consumer implements the broker-facing edge of the pipeline: a
// RabbitMQ consumer that decodes envelopes, applies an early-ack policy,
// and feeds a bounded channel that the worker pool drains. Reconnects
// with jittered backoff so a broker restart doesn't need a process
// restart.
package consumer

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	parsepipe "github.com/quillhq/parsepipe"
)

// Consumer drains a RabbitMQ queue into a bounded Go channel of WorkUnits.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	logger   *slog.Logger

	out       chan parsepipe.WorkUnit
	connected atomic.Bool
}

// New builds a Consumer. queueSize bounds the handoff channel; prefetch
// sets the AMQP QoS.
func New(url, queue string, queueSize, prefetch int, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		url:      url,
		queue:    queue,
		prefetch: prefetch,
		logger:   logger,
		out:      make(chan parsepipe.WorkUnit, queueSize),
	}
}

// Out returns the channel TaskWorkers read from.
func (c *Consumer) Out() <-chan parsepipe.WorkUnit { return c.out }

// BrokerConnected implements healthz.Checker.
func (c *Consumer) BrokerConnected() bool { return c.connected.Load() }

// QueueNotFull implements healthz.Checker: readiness reports whether the
// handoff channel has room, so a readiness probe sees when the pipeline
// is backed up.
func (c *Consumer) QueueNotFull() bool { return len(c.out) < cap(c.out) }

// Run connects and consumes until ctx is canceled, reconnecting with
// jittered exponential backoff on any connection-level failure. It closes
// the output channel on return.
func (c *Consumer) Run(ctx context.Context) error {
	defer close(c.out)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Error("consumer: connection lost, reconnecting", "err", err, "backoff", backoff)
		}

		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		wait := backoff/2 + jitter
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runOnce holds one broker connection open until it drops or ctx is done.
func (c *Consumer) runOnce(ctx context.Context) error {
	conn, err := amqp.DialConfig(c.url, amqp.Config{})
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return err
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.connected.Store(true)
	defer c.connected.Store(false)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			if err != nil {
				return err
			}
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

// handle decodes one delivery, acking it immediately once decode/validation
// succeeds (the broker's job is done the moment the unit is handed off;
// re-processing on worker crash is the registry idempotency check's job,
// not redelivery) and nacking without requeue on a bad envelope.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	unit, err := decodeEnvelope(d.Body)
	if err != nil {
		c.logger.Error("consumer: rejecting bad message", "err", err)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("consumer: ack failed", "err", err)
		return
	}

	select {
	case c.out <- unit:
	case <-ctx.Done():
	}
}

package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"

	"github.com/lsm/txgen/internal/dlq"
	"github.com/lsm/txgen/internal/observability"
	"github.com/lsm/txgen/internal/tracing"
	"github.com/lsm/txgen/internal/transaction"
)

const contentTypeHeader = "content-type"

// worker owns one client and one generator. Its loop state is touched only by the loop
// goroutine; promises run on client goroutines and only touch failures and the fatal signal.
type worker struct {
	id          int
	pool        *Pool
	client      Client
	gen         *transaction.Generator
	logger      *slog.Logger
	contentType string

	failures  atomic.Int64 // consecutive delivery failures
	fatal     chan struct{}
	fatalOnce sync.Once
	fatalErr  error // set before fatal is closed

	closing   atomic.Bool
	closeOnce sync.Once
}

func (w *worker) run(ctx context.Context) error {
	p := w.pool
	meter := NewMeter(p.now(), ThroughputInterval)
	w.logger.Info("worker started")

	stopWatchdog := w.watchShutdown(ctx)
	defer stopWatchdog()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-w.fatal:
			err = w.fatalErr
			w.logger.Error("worker stopping after fatal transport error", "error", err)
			break loop
		default:
		}

		// Wait fails only once ctx is done or its deadline cannot be met.
		if p.limiter.Wait(ctx) != nil {
			break loop
		}

		if !w.publish(ctx) {
			continue
		}
		if s, ok := meter.Observe(p.now()); ok {
			w.report(s)
		}
	}

	if s, ok := meter.Flush(p.now()); ok {
		w.report(s)
	}
	w.shutdown()
	w.logger.Info("worker stopped")
	return err
}

// publish submits one transaction and reports whether it was handed to the client.
func (w *worker) publish(ctx context.Context) bool {
	p := w.pool
	tx := w.gen.Next()

	value, err := p.encoder.Encode(tx)
	if err != nil {
		perr := &PublishError{Topic: p.config.Topic, Key: tx.ID, Err: err}
		w.logger.Error("failed to encode transaction", "key", tx.ID, "error", perr)
		p.metrics.RecordFailed(w.id, observability.ReasonEncode)
		return false
	}

	record := &kgo.Record{
		Topic:   p.config.Topic,
		Key:     tx.Key(),
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: contentTypeHeader, Value: []byte(w.contentType)}},
	}

	// Buffered records are flushed during shutdown, so they must not inherit cancellation.
	sendCtx, span := tracing.StartSpan(context.WithoutCancel(ctx), p.tracer, tracing.SpanKafkaPublish,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			tracing.KafkaTopicAttr(record.Topic),
			tracing.KafkaKeyAttr(tx.ID),
			tracing.WorkerAttr(w.id),
		),
	)

	start := p.now()
	w.client.Produce(sendCtx, record, func(r *kgo.Record, err error) {
		defer span.End()
		if err != nil {
			w.onFailure(r, err, span)
			return
		}
		w.onSuccess(r, start, span)
	})
	return true
}

func (w *worker) onSuccess(r *kgo.Record, start time.Time, span trace.Span) {
	w.failures.Store(0)
	w.pool.metrics.RecordProduced(w.id, w.pool.now().Sub(start))
	span.SetAttributes(tracing.KafkaPartitionAttr(r.Partition), tracing.KafkaOffsetAttr(r.Offset))
	tracing.SetSpanOK(span)
	w.logger.Debug("record delivered", "key", string(r.Key), "partition", r.Partition, "offset", r.Offset)
}

// onFailure drops the record; it is never retried.
func (w *worker) onFailure(r *kgo.Record, err error, span trace.Span) {
	p := w.pool
	perr := &PublishError{Topic: r.Topic, Key: string(r.Key), Err: err}

	tracing.SetSpanError(span, perr)
	p.metrics.RecordFailed(w.id, observability.ReasonDelivery)
	w.logger.Error("record delivery failed", "key", perr.Key, "error", err)

	if p.deadLetter != nil {
		info := dlq.FailureInfo{
			OriginalTopic: r.Topic,
			Reason:        observability.ReasonDelivery,
			ErrorMessage:  err.Error(),
			Worker:        w.id,
			ContentType:   w.contentType,
		}
		if derr := p.deadLetter.Send(context.Background(), r.Key, r.Value, info); derr != nil {
			p.metrics.RecordDeadLetter(false)
			w.logger.Warn("dead-letter hand-off failed", "key", perr.Key, "error", derr)
		}
	}

	if errors.Is(err, kgo.ErrClientClosed) {
		if !w.closing.Load() {
			w.signalFatal(fmt.Errorf("%w: %w", ErrTransportFatal, err))
		}
		return
	}
	n := w.failures.Add(1)
	if limit := p.config.MaxConsecutiveFailures; limit > 0 && n >= int64(limit) {
		w.signalFatal(fmt.Errorf("%w: %d consecutive delivery failures, last: %w", ErrTransportFatal, n, err))
	}
}

func (w *worker) signalFatal(err error) {
	w.fatalOnce.Do(func() {
		w.fatalErr = err
		close(w.fatal)
	})
}

func (w *worker) report(s Sample) {
	w.logger.Info("throughput", "records", s.Records, "elapsed", s.Elapsed, "rate", s.Rate)
	w.pool.metrics.SetThroughput(w.id, s.Rate)
}

// shutdown flushes within the grace period and closes the client. Records still
// buffered after that fail through their promises. A client already closed by the
// shutdown watchdog has nothing left to flush.
func (w *worker) shutdown() {
	if grace := w.pool.config.ShutdownGrace; grace > 0 && !w.closing.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		if err := w.client.Flush(ctx); err != nil {
			w.logger.Warn("flush did not complete before the grace period", "error", err)
		}
		cancel()
	}
	w.closeClient()
}

// watchShutdown closes the client if the loop has not shut it down within the grace
// period after ctx is done. Produce blocks while the client buffer is full and only a
// closed client wakes it, so a stalled cluster would otherwise hold the loop forever.
func (w *worker) watchShutdown(ctx context.Context) (stop func()) {
	exited := make(chan struct{})
	stopAfter := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(w.pool.config.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			if w.closing.Load() {
				return
			}
			w.logger.Warn("worker still blocked after the grace period, closing its client")
			w.closeClient()
		case <-exited:
		}
	})
	return func() {
		stopAfter()
		close(exited)
	}
}

// closeClient closes the client once. Records failing with kgo.ErrClientClosed after
// this point are part of shutdown, not a transport failure.
func (w *worker) closeClient() {
	w.closeOnce.Do(func() {
		w.closing.Store(true)
		w.client.Close()
	})
}

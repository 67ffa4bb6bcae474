// Package producer runs the pool of load-generating producer workers.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/lsm/txgen/internal/dlq"
	"github.com/lsm/txgen/internal/kafka"
	"github.com/lsm/txgen/internal/observability"
	"github.com/lsm/txgen/internal/ratelimit"
	"github.com/lsm/txgen/internal/transaction"
)

// ThroughputInterval is the minimum window of a throughput sample.
const ThroughputInterval = time.Second

// Client is the subset of *kgo.Client a worker uses.
type Client interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// ClientFactory opens the client owned by one worker.
type ClientFactory func(worker int) (Client, error)

// DeadLetter receives records whose delivery failed.
type DeadLetter interface {
	Send(ctx context.Context, key, value []byte, info dlq.FailureInfo) error
}

// KafkaClients returns a factory opening one tuned kgo client per worker.
func KafkaClients(cluster *kafka.ClusterConfig, tuning kafka.ProducerTuning) ClientFactory {
	return func(int) (Client, error) {
		opts, err := kafka.ProducerOptions(cluster, tuning)
		if err != nil {
			return nil, err
		}
		client, err := kgo.NewClient(opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Config holds pool configuration.
type Config struct {
	Workers int
	Topic   string
	// MaxConsecutiveFailures ends a worker after that many delivery failures in a row.
	// Zero disables the check.
	MaxConsecutiveFailures int
	// ShutdownGrace bounds the final flush of each worker. Zero skips the flush.
	ShutdownGrace time.Duration
}

// Pool runs Config.Workers independent workers, each with its own client and generator.
type Pool struct {
	config     Config
	newClient  ClientFactory
	encoder    transaction.Encoder
	limiter    *ratelimit.Limiter
	deadLetter DeadLetter
	metrics    *observability.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	generator  func(worker int) *transaction.Generator
	now        func() time.Time
	live       atomic.Int32
}

// Option configures a Pool.
type Option func(*Pool)

// WithLimiter shares l between all workers.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(p *Pool) { p.limiter = l }
}

// WithDeadLetter forwards failed deliveries to d.
func WithDeadLetter(d DeadLetter) Option {
	return func(p *Pool) { p.deadLetter = d }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithTracer sets the tracer used for publish spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pool) { p.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithGenerators overrides how each worker's transaction generator is built.
func WithGenerators(fn func(worker int) *transaction.Generator) Option {
	return func(p *Pool) { p.generator = fn }
}

// WithClock overrides the clock used for throughput and latency.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a Pool.
func New(cfg Config, newClient ClientFactory, enc transaction.Encoder, opts ...Option) *Pool {
	p := &Pool{
		config:    cfg,
		newClient: newClient,
		encoder:   enc,
		tracer:    noop.NewTracerProvider().Tracer("txgen"),
		logger:    slog.Default(),
		generator: func(int) *transaction.Generator {
			return transaction.NewSeededGenerator(rand.Uint64())
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Live returns the number of workers currently in their publish loop.
func (p *Pool) Live() int {
	return int(p.live.Load())
}

// Run starts the workers and blocks until all of them have exited. Workers stop when ctx
// is cancelled or their transport fails; a failed worker never stops its siblings.
// The returned error is the first worker failure, if any.
func (p *Pool) Run(ctx context.Context) error {
	if p.config.Workers < 1 {
		return fmt.Errorf("producer pool needs at least one worker, got %d", p.config.Workers)
	}

	p.logger.Info("starting producer pool", "workers", p.config.Workers, "topic", p.config.Topic)

	// A plain Group: one worker's error must not cancel the others.
	var g errgroup.Group
	for i := 0; i < p.config.Workers; i++ {
		g.Go(func() error {
			return p.runWorker(ctx, i)
		})
	}
	err := g.Wait()

	p.logger.Info("producer pool stopped")
	return err
}

func (p *Pool) runWorker(ctx context.Context, id int) error {
	log := p.logger.With("worker", id)

	client, err := p.newClient(id)
	if err != nil {
		err = fmt.Errorf("worker %d: %w: create client: %w", id, ErrTransportFatal, err)
		log.Error("worker failed to start", "error", err)
		return err
	}

	w := &worker{
		id:          id,
		pool:        p,
		client:      client,
		gen:         p.generator(id),
		logger:      log,
		fatal:       make(chan struct{}),
		contentType: p.encoder.ContentType(),
	}

	p.live.Add(1)
	p.metrics.WorkerStarted()
	defer func() {
		p.live.Add(-1)
		p.metrics.WorkerStopped()
	}()

	return w.run(ctx)
}

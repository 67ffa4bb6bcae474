package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lsm/txgen/internal/config"
	"github.com/lsm/txgen/internal/dlq"
	"github.com/lsm/txgen/internal/observability"
	"github.com/lsm/txgen/internal/producer"
	"github.com/lsm/txgen/internal/provision"
	"github.com/lsm/txgen/internal/ratelimit"
	"github.com/lsm/txgen/internal/tracing"
	"github.com/lsm/txgen/internal/transaction"
)

const (
	configEnv         = "TXGEN_CONFIG"
	defaultConfigPath = "txgen.yaml"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFlag   = flag.String("config", "", "Path to config file. Can also be set via TXGEN_CONFIG env var.")
		logLevelFlag = flag.String("log-level", "", "Log level (debug, info, warn, error). Can also be set via TXGEN_LOG_LEVEL env var.")
	)
	flag.Parse()

	configPath := resolveConfigPath(*configFlag)
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var level slog.LevelVar
	level.Set(observability.GetLogLevel(*logLevelFlag, cfg.Observability.LogLevel))
	logger := observability.NewLogger("txgen", &level)
	slog.SetDefault(logger)

	logger.Info("starting txgen",
		"config", configPath,
		"topic", cfg.Topic.Name,
		"workers", cfg.Producer.Workers,
		"log_level", level.Level().String(),
	)

	tracer, tracerShutdown, err := tracing.Initialize(cfg.Observability.Tracing, logger)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}()

	// Setup metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	encoder, err := transaction.NewEncoder(cfg.Producer.Encoding, cfg.Producer.EventSource)
	if err != nil {
		return fmt.Errorf("encoder: %w", err)
	}

	limiter := ratelimit.New(cfg.Rate.RecordsPerSecond, cfg.Rate.Burst)

	poolOpts := []producer.Option{
		producer.WithLogger(observability.NewLogger("producer", &level)),
		producer.WithMetrics(metrics),
		producer.WithTracer(tracer),
		producer.WithLimiter(limiter),
	}

	if cfg.DeadLetter.Topic != "" {
		deadLetter, err := newDeadLetter(cfg, metrics, observability.NewLogger("dlq", &level))
		if err != nil {
			return err
		}
		defer closeDeadLetter(deadLetter, cfg.Producer.ShutdownGrace, logger)
		poolOpts = append(poolOpts, producer.WithDeadLetter(deadLetter))
		logger.Info("dead-letter forwarding enabled", "topic", cfg.DeadLetter.Topic)
	}

	pool := producer.New(producer.Config{
		Workers:                cfg.Producer.Workers,
		Topic:                  cfg.Topic.Name,
		MaxConsecutiveFailures: cfg.Producer.MaxConsecutiveFailures,
		ShutdownGrace:          cfg.Producer.ShutdownGrace,
	}, producer.KafkaClients(&cfg.Cluster, cfg.ProducerTuning()), encoder, poolOpts...)

	// Start metrics + health HTTP server
	health := observability.NewHealthServer(pool.Live)
	httpServer := &http.Server{
		Addr:              cfg.Observability.MetricsAddr,
		Handler:           otelhttp.NewHandler(newMux(reg, health), "txgen"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server starting", "addr", cfg.Observability.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Provision.Enabled {
		provLogger := observability.NewLogger("provision", &level)
		if err := provisionTopic(ctx, cfg, provLogger, metrics); err != nil {
			shutdownHTTP(httpServer, logger)
			return err
		}
	}

	// Start config watcher. Only the rate and log level apply without a restart.
	watchDone := make(chan struct{})
	if _, err := os.Stat(configPath); err == nil {
		watcher := config.NewWatcher(configPath, cfg, logger)
		watcher.OnChange(func(_, updated *config.Config) {
			applyLiveSettings(updated, limiter, &level, *logLevelFlag, logger)
		})
		go func() {
			if err := watcher.Watch(watchDone); err != nil {
				logger.Error("config watcher error", "error", err)
			}
		}()
	}

	health.SetReady(true)

	// Run the pool until shutdown or until every worker has failed
	poolErr := pool.Run(ctx)
	interrupted := ctx.Err() != nil

	// Graceful shutdown
	health.SetReady(false)
	close(watchDone)
	shutdownHTTP(httpServer, logger)

	if poolErr != nil {
		if !interrupted {
			return fmt.Errorf("all producer workers stopped: %w", poolErr)
		}
		logger.Error("producer workers failed during the run", "error", poolErr)
	}

	logger.Info("shutdown complete")
	return nil
}

// resolveConfigPath picks the flag, then TXGEN_CONFIG, then txgen.yaml.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(configEnv); v != "" {
		return v
	}
	return defaultConfigPath
}

func newMux(reg *prometheus.Registry, health *observability.HealthServer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("GET /healthz", health.Handler())
	mux.Handle("GET /readyz", health.Handler())
	return mux
}

// topicEnsurer is the part of provision.Provisioner used at startup.
type topicEnsurer interface {
	EnsureTopic(ctx context.Context, t provision.Topic) (provision.Result, error)
}

// provisionTopic creates the configured topic if needed. A non-nil error means the
// failure policy is abort and startup must stop.
func provisionTopic(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	p, err := provision.New(&cfg.Cluster, provision.WithLogger(logger), provision.WithMetrics(metrics))
	if err != nil {
		metrics.RecordProvision(provision.OutcomeFailed)
		return applyProvisionPolicy(cfg.Provision.FailurePolicy, err, logger)
	}
	defer p.Close()

	return ensureTopic(ctx, cfg, p, logger)
}

func ensureTopic(ctx context.Context, cfg *config.Config, prov topicEnsurer, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Provision.Timeout)
	defer cancel()

	_, err := prov.EnsureTopic(ctx, provision.Topic{
		Name:              cfg.Topic.Name,
		Partitions:        cfg.Topic.Partitions,
		ReplicationFactor: cfg.Topic.ReplicationFactor,
		Configs:           cfg.Topic.Configs,
	})
	return applyProvisionPolicy(cfg.Provision.FailurePolicy, err, logger)
}

// applyProvisionPolicy turns a provisioning error into a startup error under the abort
// policy. Under continue it is logged and the producers start anyway.
func applyProvisionPolicy(policy string, err error, logger *slog.Logger) error {
	if err == nil {
		return nil
	}
	if policy == config.FailurePolicyAbort {
		return fmt.Errorf("provision topic: %w", err)
	}
	logger.Warn("starting producers without a provisioned topic", "error", err)
	return nil
}

type deadLetterHandler struct {
	*dlq.Handler
	publisher *dlq.KafkaPublisher
}

func newDeadLetter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*deadLetterHandler, error) {
	tuning := cfg.ProducerTuning()
	tuning.Topic = cfg.DeadLetter.Topic

	pub, err := dlq.NewKafkaPublisher(&cfg.Cluster, tuning, dlq.WithResultFunc(func(r *kgo.Record, err error) {
		metrics.RecordDeadLetter(err == nil)
		if err != nil {
			logger.Error("dead-letter delivery failed", "key", string(r.Key), "error", err)
		}
	}))
	if err != nil {
		return nil, fmt.Errorf("dead-letter publisher: %w", err)
	}
	return &deadLetterHandler{Handler: dlq.NewHandler(pub, cfg.DeadLetter.Topic), publisher: pub}, nil
}

// closeDeadLetter runs after the pool has stopped, so late failures from the final
// worker flushes are already buffered.
func closeDeadLetter(d *deadLetterHandler, grace time.Duration, logger *slog.Logger) {
	if grace > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		if err := d.publisher.Flush(ctx); err != nil {
			logger.Warn("dead-letter flush incomplete", "error", err)
		}
		cancel()
	}
	if err := d.Close(); err != nil {
		logger.Error("dead-letter close error", "error", err)
	}
}

// applyLiveSettings applies the settings that can change without a restart.
func applyLiveSettings(cfg *config.Config, limiter *ratelimit.Limiter, level *slog.LevelVar, flagLevel string, logger *slog.Logger) {
	limiter.Set(cfg.Rate.RecordsPerSecond, cfg.Rate.Burst)
	level.Set(observability.GetLogLevel(flagLevel, cfg.Observability.LogLevel))
	logger.Info("applied config reload",
		"recordsPerSecond", cfg.Rate.RecordsPerSecond,
		"burst", cfg.Rate.Burst,
		"log_level", level.Level().String(),
	)
}

func shutdownHTTP(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}

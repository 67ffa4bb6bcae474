// Package provision makes sure the load topic exists before producers start.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/lsm/txgen/internal/kafka"
	"github.com/lsm/txgen/internal/observability"
)

// Provisioning outcomes, used as the outcome label of the provision metric.
const (
	OutcomeExists  = "exists"
	OutcomeCreated = "created"
	OutcomeFailed  = "failed"
)

// topicAdmin abstracts the kadm client methods used by Provisioner for testing.
type topicAdmin interface {
	ListTopics(ctx context.Context, topics ...string) (kadm.TopicDetails, error)
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

// Topic describes the topic to ensure.
type Topic struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// Result reports what EnsureTopic found or did. For an existing topic Partitions and
// ReplicationFactor hold the observed layout.
type Result struct {
	Created           bool
	Partitions        int32
	ReplicationFactor int16
}

// Error is returned when the topic could not be described or created.
type Error struct {
	Op    string
	Topic string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision %s topic %s: %v", e.Op, e.Topic, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Provisioner creates topics through the Kafka admin API.
type Provisioner struct {
	admin   topicAdmin
	close   func()
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) {
		p.logger = l
	}
}

// WithMetrics records each outcome in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Provisioner) {
		p.metrics = m
	}
}

// New creates a Provisioner with its own admin connection to the cluster.
func New(cluster *kafka.ClusterConfig, opts ...Option) (*Provisioner, error) {
	if cluster == nil {
		return nil, fmt.Errorf("cluster config is required")
	}

	kopts, err := kafka.ClientOptions(cluster)
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kafka admin client: %w", err)
	}

	p := newProvisioner(kadm.NewClient(client), opts...)
	p.close = client.Close
	return p, nil
}

func newProvisioner(admin topicAdmin, opts ...Option) *Provisioner {
	p := &Provisioner{
		admin:  admin,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureTopic creates the topic unless it already exists. An existing topic is never
// altered; a layout that differs from the requested one is only logged.
func (p *Provisioner) EnsureTopic(ctx context.Context, t Topic) (Result, error) {
	log := p.logger.With("topic", t.Name)

	details, err := p.admin.ListTopics(ctx, t.Name)
	if err != nil {
		return p.fail(log, &Error{Op: "describe", Topic: t.Name, Err: err})
	}

	if d, ok := details[t.Name]; ok {
		switch {
		case d.Err == nil:
			res := observed(d)
			log.Info("topic already exists", "partitions", res.Partitions, "replicationFactor", res.ReplicationFactor)
			if res.Partitions != t.Partitions || res.ReplicationFactor != t.ReplicationFactor {
				log.Warn("existing topic layout differs from configuration, leaving it unchanged",
					"wantPartitions", t.Partitions, "wantReplicationFactor", t.ReplicationFactor)
			}
			p.metrics.RecordProvision(OutcomeExists)
			return res, nil
		case !errors.Is(d.Err, kerr.UnknownTopicOrPartition):
			return p.fail(log, &Error{Op: "describe", Topic: t.Name, Err: d.Err})
		}
	}

	resp, err := p.admin.CreateTopics(ctx, t.Partitions, t.ReplicationFactor, t.Configs, t.Name)
	if err != nil {
		return p.fail(log, &Error{Op: "create", Topic: t.Name, Err: err})
	}
	r, ok := resp[t.Name]
	if !ok {
		return p.fail(log, &Error{Op: "create", Topic: t.Name, Err: errors.New("no response from broker")})
	}
	if r.Err != nil {
		if errors.Is(r.Err, kerr.TopicAlreadyExists) {
			// Created concurrently by someone else.
			log.Info("topic already exists")
			p.metrics.RecordProvision(OutcomeExists)
			return Result{Partitions: t.Partitions, ReplicationFactor: t.ReplicationFactor}, nil
		}
		err := r.Err
		if r.ErrMessage != "" {
			err = fmt.Errorf("%w: %s", r.Err, r.ErrMessage)
		}
		return p.fail(log, &Error{Op: "create", Topic: t.Name, Err: err})
	}

	log.Info("topic created", "partitions", t.Partitions, "replicationFactor", t.ReplicationFactor)
	p.metrics.RecordProvision(OutcomeCreated)
	return Result{Created: true, Partitions: t.Partitions, ReplicationFactor: t.ReplicationFactor}, nil
}

func (p *Provisioner) fail(log *slog.Logger, err *Error) (Result, error) {
	log.Error("topic provisioning failed", "op", err.Op, "error", err.Err)
	p.metrics.RecordProvision(OutcomeFailed)
	return Result{}, err
}

// Close releases the admin connection.
func (p *Provisioner) Close() {
	if p.close != nil {
		p.close()
	}
}

func observed(d kadm.TopicDetail) Result {
	res := Result{Partitions: int32(len(d.Partitions))}
	for _, pd := range d.Partitions {
		if n := int16(len(pd.Replicas)); n > res.ReplicationFactor {
			res.ReplicationFactor = n
		}
	}
	return res
}

// Package dlq forwards records that could not be delivered to a dead-letter topic.
package dlq

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Publisher is the interface for publishing messages to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

// FailureInfo contains metadata about why a record failed.
type FailureInfo struct {
	OriginalTopic string
	Reason        string
	ErrorMessage  string
	Worker        int
	ContentType   string
}

// Handler publishes failed records to the dead-letter topic.
type Handler struct {
	publisher Publisher
	topic     string
	now       func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides the clock used for the txgen-failed-at header.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates a handler writing to topic through pub.
func NewHandler(pub Publisher, topic string, opts ...Option) *Handler {
	h := &Handler{
		publisher: pub,
		topic:     topic,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Topic returns the dead-letter topic name.
func (h *Handler) Topic() string { return h.topic }

// Send hands a failed record to the publisher. The original key and value are kept as-is.
func (h *Handler) Send(ctx context.Context, key, value []byte, info FailureInfo) error {
	headers := map[string]string{
		"txgen-original-topic": info.OriginalTopic,
		"txgen-failure-reason": info.Reason,
		"txgen-error-message":  info.ErrorMessage,
		"txgen-worker":         strconv.Itoa(info.Worker),
		"txgen-failed-at":      h.now().UTC().Format(time.RFC3339),
	}
	if info.ContentType != "" {
		headers["content-type"] = info.ContentType
	}

	if err := h.publisher.Publish(ctx, h.topic, key, value, headers); err != nil {
		return fmt.Errorf("dlq publish to %s: %w", h.topic, err)
	}
	return nil
}

// Close releases resources held by the handler.
func (h *Handler) Close() error {
	return h.publisher.Close()
}

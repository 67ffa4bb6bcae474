package dlq

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockPublisher struct {
	published []publishedMessage
	err       error
	closed    bool
}

type publishedMessage struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

func (m *mockPublisher) Publish(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, publishedMessage{
		topic:   topic,
		key:     key,
		value:   value,
		headers: headers,
	})
	return nil
}

func (m *mockPublisher) Close() error {
	m.closed = true
	return nil
}

func TestSend_PublishesOriginalRecord(t *testing.T) {
	pub := &mockPublisher{}
	h := NewHandler(pub, "financial_transactions-dlq")

	err := h.Send(context.Background(), []byte("tx-1"), []byte(`{"transactionId":"tx-1"}`), FailureInfo{
		OriginalTopic: "financial_transactions",
		Reason:        "delivery",
		ErrorMessage:  "NOT_ENOUGH_REPLICAS",
		Worker:        2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(pub.published))
	}

	msg := pub.published[0]
	if msg.topic != "financial_transactions-dlq" {
		t.Errorf("expected topic financial_transactions-dlq, got %s", msg.topic)
	}
	if string(msg.key) != "tx-1" {
		t.Errorf("expected key tx-1, got %s", msg.key)
	}
	if string(msg.value) != `{"transactionId":"tx-1"}` {
		t.Errorf("unexpected value %s", msg.value)
	}
}

func TestSend_HeadersPopulated(t *testing.T) {
	pub := &mockPublisher{}
	failedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	h := NewHandler(pub, "dlq", WithClock(func() time.Time { return failedAt }))

	err := h.Send(context.Background(), nil, []byte(`{}`), FailureInfo{
		OriginalTopic: "payments",
		Reason:        "delivery",
		ErrorMessage:  "request timed out",
		Worker:        0,
		ContentType:   "application/json",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	headers := pub.published[0].headers

	tests := map[string]string{
		"txgen-original-topic": "payments",
		"txgen-failure-reason": "delivery",
		"txgen-error-message":  "request timed out",
		"txgen-worker":         "0",
		"txgen-failed-at":      "2026-03-14T09:26:53Z",
		"content-type":         "application/json",
	}

	for k, want := range tests {
		got, ok := headers[k]
		if !ok {
			t.Errorf("missing header %s", k)
			continue
		}
		if got != want {
			t.Errorf("header %s: got %q, want %q", k, got, want)
		}
	}
}

func TestSend_OmitsEmptyContentType(t *testing.T) {
	pub := &mockPublisher{}
	h := NewHandler(pub, "dlq")

	if err := h.Send(context.Background(), nil, nil, FailureInfo{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := pub.published[0].headers["content-type"]; ok {
		t.Error("content-type header should be omitted when unknown")
	}
}

func TestSend_PublishError(t *testing.T) {
	pubErr := errors.New("broker unavailable")
	pub := &mockPublisher{err: pubErr}
	h := NewHandler(pub, "dlq")

	err := h.Send(context.Background(), nil, []byte(`{}`), FailureInfo{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, pubErr) {
		t.Errorf("expected wrapped publisher error, got %v", err)
	}
}

func TestHandler_TopicAndClose(t *testing.T) {
	pub := &mockPublisher{}
	h := NewHandler(pub, "orders-dlq")

	if h.Topic() != "orders-dlq" {
		t.Errorf("Topic() = %q", h.Topic())
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if !pub.closed {
		t.Error("expected publisher to be closed")
	}
}

package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrKafkaTopic     = "messaging.destination.name"
	AttrKafkaKey       = "messaging.kafka.message.key"
	AttrKafkaPartition = "messaging.kafka.destination.partition"
	AttrKafkaOffset    = "messaging.kafka.message.offset"
	AttrWorker         = "txgen.worker"
)

// SpanKafkaPublish is the span covering one record from submit to acknowledgment.
const SpanKafkaPublish = "kafka.publish"

// StartSpan starts a new span with the given name and options.
// If tracer is nil, returns the span already in ctx.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// SetSpanError records an error on the span and sets the status to Error.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK sets the span status to Ok.
func SetSpanOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

func KafkaTopicAttr(topic string) attribute.KeyValue {
	return attribute.String(AttrKafkaTopic, topic)
}

func KafkaKeyAttr(key string) attribute.KeyValue {
	return attribute.String(AttrKafkaKey, key)
}

func KafkaPartitionAttr(partition int32) attribute.KeyValue {
	return attribute.Int64(AttrKafkaPartition, int64(partition))
}

func KafkaOffsetAttr(offset int64) attribute.KeyValue {
	return attribute.Int64(AttrKafkaOffset, offset)
}

func WorkerAttr(worker int) attribute.KeyValue {
	return attribute.Int(AttrWorker, worker)
}

package transaction

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Encoding names accepted by NewEncoder.
const (
	EncodingJSON        = "json"
	EncodingCloudEvents = "cloudevents"
)

// EventType is the CloudEvents type attribute of published transactions.
const EventType = "com.txgen.transaction.created"

// Encoder serializes a transaction into a record value.
type Encoder interface {
	Encode(tx Transaction) ([]byte, error)
	ContentType() string
}

// NewEncoder returns the encoder for the named encoding. source is only used by the
// CloudEvents envelope.
func NewEncoder(encoding, source string) (Encoder, error) {
	switch encoding {
	case "", EncodingJSON:
		return JSONEncoder{}, nil
	case EncodingCloudEvents:
		if source == "" {
			source = "txgen"
		}
		return CloudEventsEncoder{Source: source}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q (must be json or cloudevents)", encoding)
	}
}

// JSONEncoder writes the bare transaction object.
type JSONEncoder struct{}

func (JSONEncoder) Encode(tx Transaction) ([]byte, error) {
	return json.Marshal(tx)
}

func (JSONEncoder) ContentType() string { return "application/json" }

// CloudEventsEncoder wraps the transaction in a structured-mode CloudEvent.
type CloudEventsEncoder struct {
	Source string
}

func (e CloudEventsEncoder) Encode(tx Transaction) ([]byte, error) {
	event := cloudevents.NewEvent()
	event.SetID(tx.ID)
	event.SetSource(e.Source)
	event.SetType(EventType)
	event.SetSubject(tx.UserID)
	event.SetTime(time.UnixMilli(tx.Time).UTC())
	if err := event.SetData(cloudevents.ApplicationJSON, tx); err != nil {
		return nil, fmt.Errorf("set cloudevent data: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cloudevent: %w", err)
	}
	return json.Marshal(event)
}

func (CloudEventsEncoder) ContentType() string { return "application/cloudevents+json" }

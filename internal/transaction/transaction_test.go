package transaction

import (
	"encoding/json"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestGenerator_UniqueIDs(t *testing.T) {
	const n = 1_000_000
	if testing.Short() {
		t.Skip("skipping large id sample in short mode")
	}

	g := NewSeededGenerator(1)
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		tx := g.Next()
		if _, dup := seen[tx.ID]; dup {
			t.Fatalf("duplicate id %s after %d records", tx.ID, i)
		}
		seen[tx.ID] = struct{}{}
	}
}

func TestGenerator_FieldsInRange(t *testing.T) {
	g := NewSeededGenerator(42)

	for i := 0; i < 50_000; i++ {
		tx := g.Next()

		if tx.Amount < MinAmount || tx.Amount >= MaxAmount {
			t.Fatalf("amount %v outside [%v, %v)", tx.Amount, MinAmount, MaxAmount)
		}
		if !slices.Contains(Types, tx.Type) {
			t.Fatalf("type %q not in set", tx.Type)
		}
		if !slices.Contains(Locations, tx.Location) {
			t.Fatalf("location %q not in set", tx.Location)
		}
		if !slices.Contains(PaymentMethods, tx.PaymentMethod) {
			t.Fatalf("payment method %q not in set", tx.PaymentMethod)
		}
		if !slices.Contains(Currencies, tx.Currency) {
			t.Fatalf("currency %q not in set", tx.Currency)
		}
		if !strings.HasPrefix(tx.UserID, "user") || !strings.HasPrefix(tx.MerchantID, "merchant") {
			t.Fatalf("unexpected subject ids %q / %q", tx.UserID, tx.MerchantID)
		}
		if tx.ID == "" {
			t.Fatal("empty id")
		}
	}
}

func TestGenerator_CoversValueSets(t *testing.T) {
	g := NewSeededGenerator(7)
	types := map[string]bool{}
	currencies := map[string]bool{}
	international := map[bool]bool{}

	for i := 0; i < 1000; i++ {
		tx := g.Next()
		types[tx.Type] = true
		currencies[tx.Currency] = true
		international[tx.IsInternational] = true
	}

	if len(types) != len(Types) || len(currencies) != len(Currencies) || len(international) != 2 {
		t.Errorf("value sets not covered: types=%v currencies=%v international=%v", types, currencies, international)
	}
}

func TestGenerator_TimestampNonDecreasing(t *testing.T) {
	g := NewGenerator(rand.NewPCG(1, 2))
	base := time.UnixMilli(1_700_000_000_000)
	step := 0
	g.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	prev := int64(0)
	for i := 0; i < 100; i++ {
		tx := g.Next()
		if tx.Time < prev {
			t.Fatalf("timestamp went backwards: %d < %d", tx.Time, prev)
		}
		prev = tx.Time
	}
}

func TestTransaction_JSONFieldNames(t *testing.T) {
	tx := NewSeededGenerator(3).Next()
	data, err := JSONEncoder{}.Encode(tx)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	for _, name := range []string{
		"transactionId", "userId", "amount", "transactionTime", "merchantId",
		"transactionType", "location", "paymentMethod", "isInternational", "currency",
	} {
		if _, ok := fields[name]; !ok {
			t.Errorf("missing field %q in %s", name, data)
		}
	}
	if fields["transactionId"] != tx.ID {
		t.Errorf("transactionId = %v, want %s", fields["transactionId"], tx.ID)
	}
	if string(tx.Key()) != tx.ID {
		t.Errorf("Key() = %q, want %q", tx.Key(), tx.ID)
	}
}

func TestCloudEventsEncoder(t *testing.T) {
	enc, err := NewEncoder(EncodingCloudEvents, "txgen-test")
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	if enc.ContentType() != "application/cloudevents+json" {
		t.Errorf("ContentType() = %q", enc.ContentType())
	}

	tx := NewSeededGenerator(9).Next()
	data, err := enc.Encode(tx)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var envelope struct {
		SpecVersion string      `json:"specversion"`
		ID          string      `json:"id"`
		Source      string      `json:"source"`
		Type        string      `json:"type"`
		Subject     string      `json:"subject"`
		Data        Transaction `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("invalid envelope: %v", err)
	}
	if envelope.SpecVersion != "1.0" {
		t.Errorf("specversion = %q, want 1.0", envelope.SpecVersion)
	}
	if envelope.ID != tx.ID || envelope.Source != "txgen-test" || envelope.Type != EventType {
		t.Errorf("unexpected envelope attributes: %+v", envelope)
	}
	if envelope.Subject != tx.UserID {
		t.Errorf("subject = %q, want %q", envelope.Subject, tx.UserID)
	}
	if envelope.Data != tx {
		t.Errorf("data = %+v, want %+v", envelope.Data, tx)
	}
}

func TestNewEncoder(t *testing.T) {
	tests := []struct {
		encoding string
		wantErr  bool
	}{
		{"", false},
		{EncodingJSON, false},
		{EncodingCloudEvents, false},
		{"avro", true},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			_, err := NewEncoder(tt.encoding, "")
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEncoder(%q) error = %v, wantErr %v", tt.encoding, err, tt.wantErr)
			}
		})
	}
}

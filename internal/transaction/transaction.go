// Package transaction synthesizes random financial transactions and encodes them for publishing.
package transaction

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Amount bounds: amounts are drawn uniformly from [MinAmount, MaxAmount).
const (
	MinAmount = 10.0
	MaxAmount = 510.0
)

const (
	userCount     = 100
	merchantCount = 50
)

// Categorical value sets.
var (
	Types          = []string{"purchase", "refund"}
	Locations      = []string{"NY, USA", "LA, USA"}
	PaymentMethods = []string{"credit_card", "debit_card"}
	Currencies     = []string{"USD", "EUR"}
)

// Transaction is a single synthetic financial event.
type Transaction struct {
	ID              string  `json:"transactionId"`
	UserID          string  `json:"userId"`
	Amount          float64 `json:"amount"`
	Time            int64   `json:"transactionTime"` // Unix milliseconds
	MerchantID      string  `json:"merchantId"`
	Type            string  `json:"transactionType"`
	Location        string  `json:"location"`
	PaymentMethod   string  `json:"paymentMethod"`
	IsInternational bool    `json:"isInternational"`
	Currency        string  `json:"currency"`
}

// Key returns the partition routing key.
func (t Transaction) Key() []byte {
	return []byte(t.ID)
}

// Generator builds random transactions. A Generator is not safe for concurrent use;
// each worker owns its own.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator creates a generator drawing from src.
func NewGenerator(src rand.Source) *Generator {
	return &Generator{rng: rand.New(src), now: time.Now}
}

// NewSeededGenerator creates a generator with an independent PCG source.
func NewSeededGenerator(seed uint64) *Generator {
	return NewGenerator(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Next returns a freshly generated transaction.
func (g *Generator) Next() Transaction {
	return Transaction{
		ID:              uuid.NewString(),
		UserID:          fmt.Sprintf("user%d", g.rng.IntN(userCount)),
		Amount:          MinAmount + (MaxAmount-MinAmount)*g.rng.Float64(),
		Time:            g.now().UnixMilli(),
		MerchantID:      fmt.Sprintf("merchant%d", g.rng.IntN(merchantCount)),
		Type:            pick(g.rng, Types),
		Location:        pick(g.rng, Locations),
		PaymentMethod:   pick(g.rng, PaymentMethods),
		IsInternational: g.rng.IntN(2) == 1,
		Currency:        pick(g.rng, Currencies),
	}
}

func pick(rng *rand.Rand, set []string) string {
	return set[rng.IntN(len(set))]
}

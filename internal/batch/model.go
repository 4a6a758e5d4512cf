package batch

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/triagedesk/internal/risk"
)

// Group dimensions understood by the aggregation and report code.
const (
	DimDepartment = "department"
	DimSemester   = "semester"
)

// Transaction is one scored transfer under review.
type Transaction struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Amount      decimal.Decimal   `json:"amount"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	RiskScore   int               `json:"risk_score"`
	RiskLevel   string            `json:"risk_level,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
	RiskFactors []string          `json:"risk_factors,omitempty"`
	Fraud       *bool             `json:"is_fraud,omitempty"`
	Groups      map[string]string `json:"groups,omitempty"`
}

// Classification returns the severity bucket for the transaction's score.
func (t *Transaction) Classification() risk.Classification {
	return risk.Classify(t.RiskScore)
}

// Group returns the transaction's value for a group dimension.
func (t *Transaction) Group(dim string) (string, bool) {
	v, ok := t.Groups[dim]
	return v, ok && v != ""
}

// IsFraud reports whether the transaction counts as fraud. A ground truth
// flag wins; otherwise high and critical scores count.
func (t *Transaction) IsFraud() bool {
	if t.Fraud != nil {
		return *t.Fraud
	}
	return risk.BucketFor(t.RiskScore) >= risk.High
}

// Batch is one ingested set of transactions, kept in source order.
type Batch struct {
	ID           string        `json:"id"`
	Source       string        `json:"source"`
	IngestedAt   time.Time     `json:"ingested_at"`
	Transactions []Transaction `json:"transactions"`

	index map[string]int
}

// Len returns the number of transactions.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Transactions)
}

// Get looks up a transaction by id.
func (b *Batch) Get(id string) (*Transaction, bool) {
	if b == nil {
		return nil, false
	}
	i, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return &b.Transactions[i], true
}

// IDs returns transaction ids in source order.
func (b *Batch) IDs() []string {
	if b == nil {
		return nil
	}
	ids := make([]string, len(b.Transactions))
	for i := range b.Transactions {
		ids[i] = b.Transactions[i].ID
	}
	return ids
}

// New builds a Batch from already typed transactions, applying the same
// integrity checks as FromRecords.
func New(source string, txns []Transaction) (*Batch, error) {
	b := &Batch{
		ID:           ulid.Make().String(),
		Source:       source,
		IngestedAt:   time.Now().UTC(),
		Transactions: make([]Transaction, 0, len(txns)),
		index:        make(map[string]int, len(txns)),
	}
	for i := range txns {
		t := txns[i]
		row := i + 1
		switch {
		case t.ID == "":
			return nil, malformed(row, FieldID, "required field is missing")
		case t.From == "":
			return nil, malformed(row, FieldFrom, "required field is missing")
		case t.To == "":
			return nil, malformed(row, FieldTo, "required field is missing")
		case t.Amount.IsNegative():
			return nil, malformed(row, FieldAmount, "must not be negative")
		case t.RiskScore < 0 || t.RiskScore > 100:
			return nil, malformed(row, FieldRiskScore, "risk score must be in [0,100], got %d", t.RiskScore)
		}
		if _, dup := b.index[t.ID]; dup {
			return nil, malformed(row, FieldID, "duplicate transaction id %q", t.ID)
		}
		b.index[t.ID] = len(b.Transactions)
		b.Transactions = append(b.Transactions, t)
	}
	return b, nil
}

// MustNew is New for fixtures; it panics on invalid input.
func MustNew(source string, txns []Transaction) *Batch {
	b, err := New(source, txns)
	if err != nil {
		panic(err)
	}
	return b
}

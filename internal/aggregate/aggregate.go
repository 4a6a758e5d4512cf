// Package aggregate derives dashboard statistics from a batch and the
// current ledger in a single pass.
package aggregate

import (
	"maps"

	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/triagedesk/internal/batch"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
	"github.com/linnemanlabs/triagedesk/internal/risk"
)

// StatusSource is the read side of a ledger.
type StatusSource interface {
	Status(id string) ledger.Status
	Vocabulary() ledger.Vocabulary
	Generation() uint64
}

// GroupStats is the breakdown for one group value.
type GroupStats struct {
	Total    int             `json:"total"`
	Verified int             `json:"verified"`
	Pending  int             `json:"pending"`
	Amount   decimal.Decimal `json:"amount"`
}

// Stats is the derived view of a batch under a ledger generation.
type Stats struct {
	BatchID    string `json:"batch_id,omitempty"`
	Generation uint64 `json:"generation"`

	Total    int                   `json:"total"`
	Status   map[ledger.Status]int `json:"status"`
	Severity map[risk.Bucket]int   `json:"severity"`

	FraudCount       int             `json:"fraud_count"`
	FraudRate        float64         `json:"fraud_rate"`
	Accuracy         float64         `json:"accuracy"`
	VerificationRate float64         `json:"verification_rate"`
	TotalAmount      decimal.Decimal `json:"total_amount"`

	// Groups is keyed by dimension, then by group value.
	Groups map[string]map[string]GroupStats `json:"groups,omitempty"`
}

// Compute walks b once. Every vocabulary status and every severity bucket
// is present in the result. A transaction the ledger does not know counts
// under the vocabulary's initial status.
func Compute(b *batch.Batch, src StatusSource, dims []string) Stats {
	vocab := src.Vocabulary()
	initial := vocab.Initial()

	st := Stats{
		Generation:  src.Generation(),
		Status:      make(map[ledger.Status]int, len(vocab.Statuses)),
		Severity:    make(map[risk.Bucket]int, len(risk.Buckets)),
		TotalAmount: decimal.Zero,
	}
	for _, s := range vocab.Statuses {
		st.Status[s] = 0
	}
	for _, bk := range risk.Buckets {
		st.Severity[bk] = 0
	}
	if len(dims) > 0 {
		st.Groups = make(map[string]map[string]GroupStats, len(dims))
		for _, d := range dims {
			st.Groups[d] = make(map[string]GroupStats)
		}
	}
	st.Accuracy = 1
	if b == nil {
		return st
	}
	st.BatchID = b.ID

	for i := range b.Transactions {
		t := &b.Transactions[i]
		status := src.Status(t.ID)
		if status == "" {
			status = initial
		}

		st.Total++
		st.Status[status]++
		st.Severity[risk.BucketFor(t.RiskScore)]++
		st.TotalAmount = st.TotalAmount.Add(t.Amount)
		if t.IsFraud() {
			st.FraudCount++
		}

		for _, d := range dims {
			v, ok := t.Group(d)
			if !ok {
				continue
			}
			g := st.Groups[d][v]
			g.Total++
			g.Amount = g.Amount.Add(t.Amount)
			switch status {
			case ledger.Verified:
				g.Verified++
			case initial:
				g.Pending++
			}
			st.Groups[d][v] = g
		}
	}

	if st.Total > 0 {
		st.FraudRate = float64(st.FraudCount) / float64(st.Total)
		st.VerificationRate = float64(st.Status[ledger.Verified]) / float64(st.Total)
	}
	st.Accuracy = 1 - st.FraudRate
	return st
}

// Equal reports whether two stats carry the same values.
func (s Stats) Equal(o Stats) bool {
	if s.BatchID != o.BatchID || s.Generation != o.Generation || s.Total != o.Total ||
		s.FraudCount != o.FraudCount || s.FraudRate != o.FraudRate ||
		s.Accuracy != o.Accuracy || s.VerificationRate != o.VerificationRate ||
		!s.TotalAmount.Equal(o.TotalAmount) {
		return false
	}
	if !maps.Equal(s.Status, o.Status) || !maps.Equal(s.Severity, o.Severity) {
		return false
	}
	if len(s.Groups) != len(o.Groups) {
		return false
	}
	for dim, groups := range s.Groups {
		other, ok := o.Groups[dim]
		if !ok || len(other) != len(groups) {
			return false
		}
		for k, g := range groups {
			og, ok := other[k]
			if !ok || g.Total != og.Total || g.Verified != og.Verified ||
				g.Pending != og.Pending || !g.Amount.Equal(og.Amount) {
				return false
			}
		}
	}
	return true
}

// StatusSum returns the total across all statuses.
func (s Stats) StatusSum() int {
	n := 0
	for _, c := range s.Status {
		n += c
	}
	return n
}

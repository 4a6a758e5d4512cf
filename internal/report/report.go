// Package report assembles the downloadable review report for a surface:
// headline stats, reviewer recommendations, the riskiest transactions, the
// account network summary and an optional written narrative.
package report

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/aggregate"
	"github.com/linnemanlabs/triagedesk/internal/batch"
	"github.com/linnemanlabs/triagedesk/internal/dashboard"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
	"github.com/linnemanlabs/triagedesk/internal/netgraph"
	"github.com/linnemanlabs/triagedesk/internal/risk"
)

// Defaults for Assembler.
const (
	DefaultTopRows    = 15
	DefaultTopFactors = 5
	DefaultNarrative  = 20 * time.Second
)

// Summarizer writes prose from a system instruction and a prompt.
type Summarizer interface {
	Summarize(ctx context.Context, system, prompt string) (string, error)
}

// Document is a rendered report.
type Document struct {
	Title       string         `json:"title"`
	Subtitle    string         `json:"subtitle"`
	Surface     dashboard.Kind `json:"surface"`
	BatchID     string         `json:"batch_id"`
	Source      string         `json:"source"`
	Generation  uint64         `json:"generation"`
	GeneratedAt time.Time      `json:"generated_at"`

	Stats     aggregate.Stats `json:"stats"`
	Executive string          `json:"executive_summary"`

	Recommendations []BucketAdvice     `json:"recommendations"`
	TopRisky        []Line             `json:"top_risky"`
	CommonFactors   []FactorCount      `json:"common_factors,omitempty"`
	RepeatAccounts  []string           `json:"repeat_accounts,omitempty"`
	Graph           *netgraph.Summary  `json:"graph,omitempty"`
	Groups          map[string][]Group `json:"groups,omitempty"`

	Narrative      string `json:"narrative,omitempty"`
	NarrativeError string `json:"narrative_error,omitempty"`
}

// BucketAdvice lists reviewer actions for the transactions in one bucket.
type BucketAdvice struct {
	Bucket  risk.Bucket `json:"bucket"`
	Label   string      `json:"label"`
	Count   int         `json:"count"`
	Actions []string    `json:"actions"`
}

// Line is one transaction in the top risky table.
type Line struct {
	ID        string        `json:"id"`
	Amount    string        `json:"amount"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	RiskScore int           `json:"risk_score"`
	Severity  string        `json:"severity"`
	Status    ledger.Status `json:"status"`
	Confirmed bool          `json:"confirmed"`
}

// FactorCount is how often a risk factor appears among fraud rows.
type FactorCount struct {
	Factor string `json:"factor"`
	Count  int    `json:"count"`
}

// Group is one row of a group breakdown table.
type Group struct {
	Value    string `json:"value"`
	Total    int    `json:"total"`
	Verified int    `json:"verified"`
	Pending  int    `json:"pending"`
	Amount   string `json:"amount"`
}

// Assembler builds Documents. The zero value has no narrative.
type Assembler struct {
	summarizer Summarizer
	logger     log.Logger

	// TopRows caps the risky transaction table.
	TopRows int
	// NarrativeTimeout bounds the summarizer call.
	NarrativeTimeout time.Duration

	now func() time.Time
}

// New returns an Assembler. summarizer may be nil.
func New(summarizer Summarizer, logger log.Logger) *Assembler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Assembler{
		summarizer:       summarizer,
		logger:           logger,
		TopRows:          DefaultTopRows,
		NarrativeTimeout: DefaultNarrative,
		now:              time.Now,
	}
}

// Assemble builds the report for snap. A summarizer failure is recorded in
// NarrativeError and never fails the report.
func (a *Assembler) Assemble(ctx context.Context, snap dashboard.Snapshot) Document {
	doc := Document{
		Surface:     snap.Surface,
		BatchID:     snap.BatchID,
		Source:      snap.Source,
		Generation:  snap.Generation,
		GeneratedAt: a.now().UTC(),
		Stats:       snap.Stats,
	}
	doc.Title, doc.Subtitle = titles(snap.Surface)
	doc.Executive = executive(snap)
	doc.Recommendations = advice(snap.Rows)
	doc.TopRisky = topRisky(snap.Rows, a.TopRows)
	doc.CommonFactors, doc.RepeatAccounts = patterns(snap.Rows)
	doc.Groups = groups(snap.Stats)
	if snap.Graph != nil {
		g := snap.Graph.Summary
		doc.Graph = &g
	}

	if a.summarizer != nil && len(snap.Rows) > 0 {
		nctx, cancel := context.WithTimeout(ctx, a.NarrativeTimeout)
		text, err := a.summarizer.Summarize(nctx, systemPrompt, prompt(&doc))
		cancel()
		if err != nil {
			a.logger.Warn(ctx, "report narrative unavailable", "surface", string(snap.Surface), "error", err.Error())
			doc.NarrativeError = "narrative unavailable"
		} else {
			doc.Narrative = text
		}
	}
	return doc
}

func titles(k dashboard.Kind) (string, string) {
	if k == dashboard.Loan {
		return "Loan Fee Verification Report", "Student Loan Fee Verification System"
	}
	return "Fraud Detection Report", "Fraud Detection & Prevention Unit"
}

func executive(snap dashboard.Snapshot) string {
	st := snap.Stats
	if st.Total == 0 {
		return "The batch contains no transactions."
	}
	if snap.Surface == dashboard.Loan {
		return fmt.Sprintf("%d disbursements totalling %s were reviewed. %d are verified (%.1f%%) and %d are still pending.",
			st.Total, batch.FormatAmount(st.TotalAmount),
			st.Status[ledger.Verified], st.VerificationRate*100, st.Status[ledger.Pending])
	}
	return fmt.Sprintf("%d transactions totalling %s were analysed and %d were identified as potentially fraudulent (%.1f%%). Current accuracy stands at %.1f%%.",
		st.Total, batch.FormatAmount(st.TotalAmount), st.FraudCount, st.FraudRate*100, st.Accuracy*100)
}

// advice returns one entry per populated bucket, most severe first, using
// every risk factor seen in that bucket.
func advice(rows []dashboard.Row) []BucketAdvice {
	counts := make(map[risk.Bucket]int)
	factors := make(map[risk.Bucket][]string)
	for i := range rows {
		b := rows[i].Severity.Bucket
		counts[b]++
		factors[b] = append(factors[b], rows[i].RiskFactors...)
	}

	var out []BucketAdvice
	for _, b := range slices.Backward(risk.Buckets) {
		if counts[b] == 0 {
			continue
		}
		out = append(out, BucketAdvice{
			Bucket:  b,
			Label:   b.Label(),
			Count:   counts[b],
			Actions: risk.Recommendations(b, factors[b]),
		})
	}
	return out
}

// topRisky orders by score then amount, both descending, ties in batch order.
func topRisky(rows []dashboard.Row, n int) []Line {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b dashboard.Row) int {
		if c := cmp.Compare(b.RiskScore, a.RiskScore); c != 0 {
			return c
		}
		return b.Amount.Cmp(a.Amount)
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]Line, 0, len(sorted))
	for i := range sorted {
		r := &sorted[i]
		out = append(out, Line{
			ID:        r.ID,
			Amount:    batch.FormatAmount(r.Amount),
			From:      r.From,
			To:        r.To,
			RiskScore: r.RiskScore,
			Severity:  r.Severity.Label,
			Status:    r.Status,
			Confirmed: r.Confirmed,
		})
	}
	return out
}

// patterns finds the most common risk factors among fraud rows and the
// payers with more than one fraud row.
func patterns(rows []dashboard.Row) ([]FactorCount, []string) {
	factorCount := make(map[string]int)
	payerCount := make(map[string]int)
	var payers []string
	for i := range rows {
		r := &rows[i]
		if !r.IsFraud() {
			continue
		}
		for _, f := range r.RiskFactors {
			if f = strings.TrimSpace(f); f != "" {
				factorCount[f]++
			}
		}
		if payerCount[r.From] == 0 {
			payers = append(payers, r.From)
		}
		payerCount[r.From]++
	}

	factors := make([]FactorCount, 0, len(factorCount))
	for f, c := range factorCount {
		factors = append(factors, FactorCount{Factor: f, Count: c})
	}
	slices.SortFunc(factors, func(a, b FactorCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Factor, b.Factor)
	})
	if len(factors) > DefaultTopFactors {
		factors = factors[:DefaultTopFactors]
	}

	var repeat []string
	for _, p := range payers {
		if payerCount[p] > 1 {
			repeat = append(repeat, p)
		}
	}
	return factors, repeat
}

func groups(st aggregate.Stats) map[string][]Group {
	if len(st.Groups) == 0 {
		return nil
	}
	out := make(map[string][]Group, len(st.Groups))
	for dim, values := range st.Groups {
		rows := make([]Group, 0, len(values))
		for v, g := range values {
			rows = append(rows, Group{
				Value:    v,
				Total:    g.Total,
				Verified: g.Verified,
				Pending:  g.Pending,
				Amount:   batch.FormatAmount(g.Amount),
			})
		}
		slices.SortFunc(rows, func(a, b Group) int { return strings.Compare(a.Value, b.Value) })
		out[dim] = rows
	}
	return out
}

const systemPrompt = `You are a payments fraud analyst writing the summary section of a review report.
Write two or three short paragraphs in plain prose. Do not use markdown headings or bullet lists.
Only describe what the figures show; do not invent accounts or amounts.`

func prompt(doc *Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report: %s\n", doc.Title)
	fmt.Fprintf(&b, "%s\n\n", doc.Executive)
	fmt.Fprintf(&b, "Severity counts:")
	for _, bk := range risk.Buckets {
		fmt.Fprintf(&b, " %s=%d", bk, doc.Stats.Severity[bk])
	}
	b.WriteString("\nStatus counts:")
	for _, s := range sortedStatuses(doc.Stats.Status) {
		fmt.Fprintf(&b, " %s=%d", s, doc.Stats.Status[s])
	}
	b.WriteString("\n")
	if doc.Graph != nil {
		fmt.Fprintf(&b, "Account network: %d accounts, %d links, %d connected groups, density %.3f\n",
			doc.Graph.Nodes, doc.Graph.Edges, doc.Graph.Components, doc.Graph.Density)
	}
	if len(doc.CommonFactors) > 0 {
		b.WriteString("Most common risk factors among flagged transactions:\n")
		for _, f := range doc.CommonFactors {
			fmt.Fprintf(&b, "- %s (%d)\n", f.Factor, f.Count)
		}
	}
	if len(doc.RepeatAccounts) > 0 {
		fmt.Fprintf(&b, "Payers with several flagged transactions: %s\n", strings.Join(doc.RepeatAccounts, ", "))
	}
	if len(doc.TopRisky) > 0 {
		b.WriteString("Riskiest transactions:\n")
		for _, l := range doc.TopRisky {
			fmt.Fprintf(&b, "- %s %s from %s to %s, score %d, %s\n", l.ID, l.Amount, l.From, l.To, l.RiskScore, l.Status)
		}
	}
	return b.String()
}

func sortedStatuses(m map[ledger.Status]int) []ledger.Status {
	out := make([]ledger.Status, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

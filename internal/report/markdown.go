package report

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/linnemanlabs/triagedesk/internal/risk"
)

// WriteMarkdown renders d as a Markdown document.
func (d *Document) WriteMarkdown(w io.Writer) error {
	bw := bufio.NewWriter(w)
	p := func(format string, args ...any) { fmt.Fprintf(bw, format, args...) }

	p("# %s\n\n", d.Title)
	p("_%s_\n\n", d.Subtitle)
	p("| | |\n|---|---|\n")
	p("| Surface | %s |\n", d.Surface)
	p("| Batch | %s |\n", cell(d.BatchID))
	if d.Source != "" {
		p("| Source | %s |\n", cell(d.Source))
	}
	p("| Generated | %s |\n\n", d.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

	p("## Executive summary\n\n%s\n\n", d.Executive)
	if d.Narrative != "" {
		p("%s\n\n", d.Narrative)
	}

	p("## Severity\n\n| Severity | Transactions |\n|---|---:|\n")
	for _, b := range slices.Backward(risk.Buckets) {
		p("| %s | %d |\n", b.Label(), d.Stats.Severity[b])
	}
	p("\n")

	if len(d.Recommendations) > 0 {
		p("## Recommendations\n\n")
		for _, a := range d.Recommendations {
			p("**%s** (%d)\n\n", a.Label, a.Count)
			for _, act := range a.Actions {
				p("- %s\n", act)
			}
			p("\n")
		}
	}

	if len(d.TopRisky) > 0 {
		p("## Top %d transactions by risk\n\n", len(d.TopRisky))
		p("| # | Transaction | Amount | From | To | Score | Status |\n|---:|---|---:|---|---|---:|---|\n")
		for i, l := range d.TopRisky {
			status := string(l.Status)
			if !l.Confirmed {
				status += " (unconfirmed)"
			}
			p("| %d | %s | %s | %s | %s | %d | %s |\n", i+1, cell(l.ID), l.Amount, cell(l.From), cell(l.To), l.RiskScore, status)
		}
		p("\n")
	}

	if len(d.CommonFactors) > 0 || len(d.RepeatAccounts) > 0 {
		p("## Patterns\n\n")
		for _, f := range d.CommonFactors {
			p("- %s: %d\n", f.Factor, f.Count)
		}
		if len(d.RepeatAccounts) > 0 {
			p("- Repeat payers: %s\n", strings.Join(d.RepeatAccounts, ", "))
		}
		p("\n")
	}

	dims := make([]string, 0, len(d.Groups))
	for dim := range d.Groups {
		dims = append(dims, dim)
	}
	slices.Sort(dims)
	for _, dim := range dims {
		p("## By %s\n\n| %s | Total | Verified | Pending | Amount |\n|---|---:|---:|---:|---:|\n", dim, dim)
		for _, g := range d.Groups[dim] {
			p("| %s | %d | %d | %d | %s |\n", cell(g.Value), g.Total, g.Verified, g.Pending, g.Amount)
		}
		p("\n")
	}

	if d.Graph != nil {
		p("## Account network\n\n%d accounts, %d links, %d connected groups, density %.3f.\n",
			d.Graph.Nodes, d.Graph.Edges, d.Graph.Components, d.Graph.Density)
	}

	return bw.Flush()
}

// cell keeps user supplied text from breaking a table row.
func cell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ", "\r", "").Replace(s)
}

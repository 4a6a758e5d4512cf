// Package netgraph turns a transaction batch into an account network with a
// force directed layout and a pan/zoom viewport.
package netgraph

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/triagedesk/internal/batch"
	"github.com/linnemanlabs/triagedesk/internal/risk"
)

// Node is one account.
type Node struct {
	ID          string          `json:"id"`
	Label       string          `json:"label"`
	Count       int             `json:"transaction_count"`
	Value       decimal.Decimal `json:"total_value"`
	FraudCount  int             `json:"fraud_count"`
	Worst       risk.Bucket     `json:"worst_severity"`
	Radius      float64         `json:"radius"`
	Color       string          `json:"color"`
	BorderWidth float64         `json:"border_width"`
	X           float64         `json:"x"`
	Y           float64         `json:"y"`
	Pinned      bool            `json:"pinned,omitempty"`
}

// Edge aggregates every transfer from one account to another.
type Edge struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Count  int             `json:"transaction_count"`
	Amount decimal.Decimal `json:"amount"`
	Worst  risk.Bucket     `json:"worst_severity"`
	Width  float64         `json:"width"`
	Color  string          `json:"color"`
	Label  string          `json:"label"`
}

// Summary describes the shape of the network.
type Summary struct {
	Nodes      int     `json:"nodes"`
	Edges      int     `json:"edges"`
	Density    float64 `json:"density"`
	Components int     `json:"components"`
}

// Model is the node and edge set derived from one batch.
type Model struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	index map[string]int
}

// BuildOptions sizes the visual encoding.
type BuildOptions struct {
	RadiusMin float64
	RadiusMax float64
	WidthMin  float64
	WidthMax  float64
	LabelMax  int
}

// DefaultBuildOptions matches the dashboard's network panel.
var DefaultBuildOptions = BuildOptions{
	RadiusMin: 8,
	RadiusMax: 30,
	WidthMin:  1,
	WidthMax:  5,
	LabelMax:  15,
}

type pair struct{ from, to string }

// Build collapses b into one node per account and one edge per directed
// account pair, in order of first appearance.
func Build(b *batch.Batch, opts BuildOptions) *Model {
	m := &Model{index: make(map[string]int)}
	if b == nil {
		return m
	}

	edgeIdx := make(map[pair]int)
	for i := range b.Transactions {
		t := &b.Transactions[i]
		bucket := risk.BucketFor(t.RiskScore)
		fraud := t.IsFraud()

		accts := []string{t.From, t.To}
		if t.From == t.To {
			accts = accts[:1]
		}
		for _, acct := range accts {
			n := m.node(acct, opts.LabelMax)
			n.Count++
			n.Value = n.Value.Add(t.Amount)
			n.Worst = n.Worst.Worse(bucket)
			if fraud {
				n.FraudCount++
			}
		}

		p := pair{t.From, t.To}
		j, ok := edgeIdx[p]
		if !ok {
			j = len(m.Edges)
			edgeIdx[p] = j
			m.Edges = append(m.Edges, Edge{From: t.From, To: t.To, Amount: decimal.Zero})
		}
		e := &m.Edges[j]
		e.Count++
		e.Amount = e.Amount.Add(t.Amount)
		e.Worst = e.Worst.Worse(bucket)
	}

	maxCount := 0
	for i := range m.Nodes {
		maxCount = max(maxCount, m.Nodes[i].Count)
	}
	for i := range m.Nodes {
		n := &m.Nodes[i]
		n.Radius = scale(float64(n.Count), float64(maxCount), opts.RadiusMin, opts.RadiusMax)
		n.Color = n.Worst.Color()
		n.BorderWidth = 1
		if n.Worst >= risk.High {
			n.BorderWidth = 3
		}
	}

	maxAmount := 0.0
	for i := range m.Edges {
		maxAmount = max(maxAmount, m.Edges[i].Amount.InexactFloat64())
	}
	for i := range m.Edges {
		e := &m.Edges[i]
		e.Width = scale(e.Amount.InexactFloat64(), maxAmount, opts.WidthMin, opts.WidthMax)
		e.Color = e.Worst.Color()
		e.Label = batch.FormatAmount(e.Amount)
	}

	return m
}

func (m *Model) node(id string, labelMax int) *Node {
	if i, ok := m.index[id]; ok {
		return &m.Nodes[i]
	}
	m.index[id] = len(m.Nodes)
	m.Nodes = append(m.Nodes, Node{ID: id, Label: label(id, labelMax), Value: decimal.Zero})
	return &m.Nodes[len(m.Nodes)-1]
}

// Node looks up a node by account id.
func (m *Model) Node(id string) (*Node, bool) {
	i, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return &m.Nodes[i], true
}

// Summary computes node, edge and connectivity figures.
func (m *Model) Summary() Summary {
	n := len(m.Nodes)
	s := Summary{Nodes: n, Edges: len(m.Edges)}
	if n > 1 {
		s.Density = float64(len(m.Edges)) / float64(n*(n-1))
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for _, e := range m.Edges {
		a, b := find(m.index[e.From]), find(m.index[e.To])
		if a != b {
			parent[a] = b
		}
	}
	for i := range parent {
		if find(i) == i {
			s.Components++
		}
	}
	return s
}

func (m *Model) clone() *Model {
	c := &Model{
		Nodes: append([]Node(nil), m.Nodes...),
		Edges: append([]Edge(nil), m.Edges...),
		index: make(map[string]int, len(m.index)),
	}
	for k, v := range m.index {
		c.index[k] = v
	}
	return c
}

func scale(v, maxV, lo, hi float64) float64 {
	if maxV <= 0 {
		return lo
	}
	return lo + (hi-lo)*v/maxV
}

// label shows the handle before '@' of a VPA, truncated to limit runes.
func label(id string, limit int) string {
	s := id
	if at := strings.IndexByte(s, '@'); at > 0 {
		s = s[:at]
	}
	r := []rune(s)
	if limit > 3 && len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return s
}

package netgraph

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/triagedesk/internal/batch"
	"github.com/linnemanlabs/triagedesk/internal/risk"
)

func tx(id, from, to string, score int, amount int64) batch.Transaction {
	return batch.Transaction{ID: id, From: from, To: to, RiskScore: score, Amount: decimal.NewFromInt(amount)}
}

func pairBatch() *batch.Batch {
	return batch.MustNew("test", []batch.Transaction{
		tx("t1", "alice@upi", "bob@upi", 85, 1000),
	})
}

func ringBatch() *batch.Batch {
	return batch.MustNew("test", []batch.Transaction{
		tx("t1", "a@upi", "b@upi", 20, 100),
		tx("t2", "b@upi", "c@upi", 65, 250),
		tx("t3", "c@upi", "a@upi", 90, 123456),
		tx("t4", "a@upi", "b@upi", 45, 400),
		tx("t5", "d@upi", "e@upi", 10, 50),
	})
}

func TestBuild_Encoding(t *testing.T) {
	t.Parallel()

	m := Build(ringBatch(), DefaultBuildOptions)
	if len(m.Nodes) != 5 {
		t.Fatalf("nodes = %d, want 5", len(m.Nodes))
	}
	if len(m.Edges) != 4 {
		t.Fatalf("edges = %d, want 4 (a->b merged)", len(m.Edges))
	}

	a, ok := m.Node("a@upi")
	if !ok {
		t.Fatal("node a@upi missing")
	}
	if a.Count != 3 {
		t.Errorf("a.Count = %d, want 3", a.Count)
	}
	if a.Worst != risk.Critical {
		t.Errorf("a.Worst = %v, want critical", a.Worst)
	}
	if a.Radius != DefaultBuildOptions.RadiusMax {
		t.Errorf("a.Radius = %v, want max %v", a.Radius, DefaultBuildOptions.RadiusMax)
	}
	if a.BorderWidth != 3 {
		t.Errorf("a.BorderWidth = %v, want 3", a.BorderWidth)
	}
	if a.Label != "a" {
		t.Errorf("a.Label = %q, want handle only", a.Label)
	}

	ab := m.Edges[0]
	if ab.From != "a@upi" || ab.To != "b@upi" || ab.Count != 2 {
		t.Errorf("edge[0] = %+v, want a->b x2", ab)
	}
	if !ab.Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("a->b amount = %s, want 500", ab.Amount)
	}
	if ab.Worst != risk.Medium {
		t.Errorf("a->b worst = %v, want medium", ab.Worst)
	}

	ca := m.Edges[2]
	if ca.Width != DefaultBuildOptions.WidthMax {
		t.Errorf("c->a width = %v, want max", ca.Width)
	}
	if ca.Label != "₹123,456" {
		t.Errorf("c->a label = %q, want ₹123,456", ca.Label)
	}
	if ca.Color != risk.Critical.Color() {
		t.Errorf("c->a color = %q", ca.Color)
	}
}

func TestBuild_SelfTransferCountsOnce(t *testing.T) {
	t.Parallel()

	m := Build(batch.MustNew("test", []batch.Transaction{tx("t1", "x@upi", "x@upi", 10, 5)}), DefaultBuildOptions)
	if len(m.Nodes) != 1 || m.Nodes[0].Count != 1 {
		t.Fatalf("nodes = %+v, want one node with count 1", m.Nodes)
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"alice@upi", "alice"},
		{"averyveryverylonghandle@upi", "averyveryve..."},
		{"@upi", "@upi"},
		{"plain", "plain"},
	}
	for _, tc := range tests {
		if got := label(tc.in, 14); got != tc.want {
			t.Errorf("label(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	s := Build(ringBatch(), DefaultBuildOptions).Summary()
	if s.Nodes != 5 || s.Edges != 4 {
		t.Errorf("summary = %+v", s)
	}
	if s.Components != 2 {
		t.Errorf("Components = %d, want 2", s.Components)
	}
	if math.Abs(s.Density-4.0/20.0) > 1e-9 {
		t.Errorf("Density = %v, want 0.2", s.Density)
	}

	if got := Build(nil, DefaultBuildOptions).Summary(); got != (Summary{}) {
		t.Errorf("empty summary = %+v", got)
	}
}

func TestRun_TwoAccountsConverge(t *testing.T) {
	t.Parallel()

	e := NewEngine(Build(pairBatch(), DefaultBuildOptions), Config{})
	res := e.Run()
	if !res.Converged {
		t.Fatalf("Run = %+v, want converged", res)
	}
	if res.Iterations > DefaultConfig.Iterations {
		t.Errorf("Iterations = %d, exceeds budget %d", res.Iterations, DefaultConfig.Iterations)
	}

	snap := e.Snapshot()
	for _, n := range snap.Nodes {
		if math.IsNaN(n.X) || math.IsNaN(n.Y) {
			t.Fatalf("node %s has NaN position", n.ID)
		}
	}
	d := math.Hypot(snap.Nodes[0].X-snap.Nodes[1].X, snap.Nodes[0].Y-snap.Nodes[1].Y)
	if d < 1 {
		t.Errorf("nodes collapsed, distance = %v", d)
	}

	if _, done := e.Step(); !done {
		t.Error("Step after settle should report done")
	}
}

func TestRun_RespectsBudget(t *testing.T) {
	t.Parallel()

	e := NewEngine(Build(ringBatch(), DefaultBuildOptions), Config{Iterations: 5, Epsilon: 1e-12})
	res := e.Run()
	if res.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", res.Iterations)
	}
	if res.Converged {
		t.Error("Converged = true with a 5 step budget")
	}
}

func TestRun_Empty(t *testing.T) {
	t.Parallel()

	e := NewEngine(Build(nil, DefaultBuildOptions), Config{})
	res := e.Run()
	if !res.Converged || res.Iterations != 1 {
		t.Errorf("Run = %+v, want converged after one step", res)
	}
	if v := e.ResetView(); v.Zoom != 1 {
		t.Errorf("ResetView zoom on empty graph = %v, want 1", v.Zoom)
	}
}

func TestZoom(t *testing.T) {
	t.Parallel()

	e := NewEngine(Build(pairBatch(), DefaultBuildOptions), Config{})
	e.ZoomIn()
	if v := e.ZoomOut(); math.Abs(v.Zoom-0.96) > 1e-9 {
		t.Errorf("zoom after in+out = %v, want 0.96", v.Zoom)
	}

	for range 20 {
		e.ZoomIn()
	}
	if v := e.Viewport(); v.Zoom != MaxZoom {
		t.Errorf("zoom = %v, want clamp at %v", v.Zoom, MaxZoom)
	}

	for range 20 {
		e.ZoomOut()
	}
	if v := e.Viewport(); v.Zoom != MinZoom {
		t.Errorf("zoom = %v, want clamp at %v", v.Zoom, MinZoom)
	}
}

func TestResetView_FitsAllNodes(t *testing.T) {
	t.Parallel()

	cfg := Config{Width: 800, Height: 600, Padding: 40}
	e := NewEngine(Build(ringBatch(), DefaultBuildOptions), cfg)
	e.Run()
	e.ZoomIn()
	e.ZoomIn()

	v := e.ResetView()
	if v.Zoom < MinZoom || v.Zoom > MaxZoom {
		t.Fatalf("zoom %v outside clamp", v.Zoom)
	}
	for _, n := range e.Snapshot().Nodes {
		sx, sy := v.ToScreen(n.X, n.Y)
		r := n.Radius * v.Zoom
		const eps = 1e-6
		if sx-r < 40-eps || sx+r > 760+eps || sy-r < 40-eps || sy+r > 560+eps {
			t.Errorf("node %s at (%.1f,%.1f) r=%.1f outside padded canvas", n.ID, sx, sy, r)
		}
	}
}

func TestCenterOn(t *testing.T) {
	t.Parallel()

	e := NewEngine(Build(ringBatch(), DefaultBuildOptions), Config{})
	e.Run()
	e.ZoomIn()
	before := e.Viewport().Zoom

	v, err := e.CenterOn("c@upi")
	if err != nil {
		t.Fatalf("CenterOn: %v", err)
	}
	if v.Zoom != before {
		t.Errorf("zoom changed %v -> %v", before, v.Zoom)
	}
	sx, sy := v.ToScreen(v.CenterX, v.CenterY)
	if sx != v.Width/2 || sy != v.Height/2 {
		t.Errorf("center maps to (%v,%v), want canvas middle", sx, sy)
	}

	if _, err := e.CenterOn("nobody"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("CenterOn unknown err = %v, want ErrUnknownNode", err)
	}
}

func TestClick_CentersAndReturnsNode(t *testing.T) {
	t.Parallel()

	e := NewEngine(Build(ringBatch(), DefaultBuildOptions), Config{})
	e.Run()
	n, v, err := e.Click("b@upi")
	if err != nil {
		t.Fatalf("Click: %v", err)
	}
	if n.ID != "b@upi" || v.CenterX != n.X || v.CenterY != n.Y {
		t.Errorf("Click = %+v %+v", n, v)
	}
}

func TestDragRelease(t *testing.T) {
	t.Parallel()

	e := NewEngine(Build(ringBatch(), DefaultBuildOptions), Config{})
	e.Run()

	if err := e.Drag("a@upi", 500, 500); err != nil {
		t.Fatalf("Drag: %v", err)
	}
	// a pinned node stays put while others are simulated
	e.Step()
	snap := e.Snapshot()
	for _, n := range snap.Nodes {
		if n.ID == "a@upi" && (n.X != 500 || n.Y != 500 || !n.Pinned) {
			t.Fatalf("dragged node = %+v, want pinned at 500,500", n)
		}
	}

	res, err := e.Release("a@upi")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if res.Iterations == 0 || res.Iterations > DefaultConfig.ReheatIterations {
		t.Errorf("Release iterations = %d, want within (0,%d]", res.Iterations, DefaultConfig.ReheatIterations)
	}
	for _, n := range e.Snapshot().Nodes {
		if n.ID == "a@upi" && n.Pinned {
			t.Error("node still pinned after Release")
		}
	}

	if err := e.Drag("nobody", 0, 0); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Drag unknown err = %v", err)
	}
	if _, err := e.Release("nobody"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Release unknown err = %v", err)
	}
}

func TestDrag_RejectsOutOfBounds(t *testing.T) {
	t.Parallel()

	e := NewEngine(Build(ringBatch(), DefaultBuildOptions), Config{})
	e.Run()
	before := e.Snapshot()

	tests := []struct {
		name string
		x, y float64
	}{
		{"nan x", math.NaN(), 0},
		{"inf y", 0, math.Inf(1)},
		{"negative inf", math.Inf(-1), math.Inf(-1)},
		{"huge", 1e300, 1e300},
		{"just past bound", MaxCoordinate + 1, 0},
	}
	for _, tt := range tests {
		if err := e.Drag("a@upi", tt.x, tt.y); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("%s: Drag err = %v, want ErrOutOfBounds", tt.name, err)
		}
	}
	for i, n := range e.Snapshot().Nodes {
		if n.Pinned || n.X != before.Nodes[i].X || n.Y != before.Nodes[i].Y {
			t.Errorf("rejected drag moved %s: %+v", n.ID, n)
		}
	}
}

func TestDragRelease_AtBoundStaysFinite(t *testing.T) {
	t.Parallel()

	e := NewEngine(Build(ringBatch(), DefaultBuildOptions), Config{})
	e.Run()

	if err := e.Drag("a@upi", MaxCoordinate, -MaxCoordinate); err != nil {
		t.Fatalf("Drag: %v", err)
	}
	if _, err := e.Release("a@upi"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	snap := e.Snapshot()
	for _, n := range snap.Nodes {
		if !finite(n.X) || !finite(n.Y) {
			t.Errorf("node %s at (%v, %v) after release", n.ID, n.X, n.Y)
		}
	}
	v := snap.Viewport
	if !finite(v.CenterX) || !finite(v.CenterY) {
		t.Errorf("viewport = %+v", v)
	}
}

func TestViewport_ScreenRoundTrip(t *testing.T) {
	t.Parallel()

	v := Viewport{Zoom: 1.7, CenterX: 12, CenterY: -30, Width: 800, Height: 600}
	x, y := v.FromScreen(v.ToScreen(100, 250))
	if math.Abs(x-100) > 1e-9 || math.Abs(y-250) > 1e-9 {
		t.Errorf("round trip = (%v,%v)", x, y)
	}
}

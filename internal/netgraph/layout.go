package netgraph

import (
	"errors"
	"math"
	"sync"
)

// ErrUnknownNode is returned for operations on an account not in the model.
var ErrUnknownNode = errors.New("unknown node")

// ErrOutOfBounds is returned by Drag for a position that is not finite or
// lies beyond MaxCoordinate on either axis.
var ErrOutOfBounds = errors.New("coordinate out of bounds")

// MaxCoordinate bounds a dragged position in layout units.
const MaxCoordinate = 1e6

// Config bounds the simulation and sizes the viewport.
type Config struct {
	// Iterations is the step budget for one settle.
	Iterations int

	// Epsilon stops a settle once total displacement in a step drops below it.
	Epsilon float64

	// Temperature caps the distance a node may move in the first step.
	Temperature float64

	// Cooling multiplies the temperature after every step, in (0,1).
	Cooling float64

	// Reheat is the temperature restored when a dragged node is released,
	// with ReheatIterations extra steps of budget.
	Reheat           float64
	ReheatIterations int

	// Spread scales the ideal edge length.
	Spread float64

	// Gravity pulls every node toward the origin so disconnected
	// components stay on screen.
	Gravity float64

	Width   float64
	Height  float64
	Padding float64
}

// DefaultConfig suits graphs of a few hundred accounts.
var DefaultConfig = Config{
	Iterations:       300,
	Epsilon:          0.5,
	Temperature:      100,
	Cooling:          0.92,
	Reheat:           30,
	ReheatIterations: 80,
	Spread:           60,
	Gravity:          0.02,
	Width:            960,
	Height:           640,
	Padding:          50,
}

func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.Iterations > 0 {
		d.Iterations = c.Iterations
	}
	if c.Epsilon > 0 {
		d.Epsilon = c.Epsilon
	}
	if c.Temperature > 0 {
		d.Temperature = c.Temperature
	}
	if c.Cooling > 0 && c.Cooling < 1 {
		d.Cooling = c.Cooling
	}
	if c.Reheat > 0 {
		d.Reheat = c.Reheat
	}
	if c.ReheatIterations > 0 {
		d.ReheatIterations = c.ReheatIterations
	}
	if c.Spread > 0 {
		d.Spread = c.Spread
	}
	if c.Gravity > 0 {
		d.Gravity = c.Gravity
	}
	if c.Width > 0 {
		d.Width = c.Width
	}
	if c.Height > 0 {
		d.Height = c.Height
	}
	if c.Padding > 0 {
		d.Padding = c.Padding
	}
	return d
}

// RunResult reports how a settle ended.
type RunResult struct {
	Iterations   int     `json:"iterations"`
	Converged    bool    `json:"converged"`
	Displacement float64 `json:"displacement"`
}

// Engine owns a model's positions and its viewport. It is safe for
// concurrent use.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	model  *Model
	dx, dy []float64
	temp   float64
	iter   int
	budget int
	last   float64
	view   Viewport
}

// NewEngine places the nodes of m on a circle and prepares a settle. m is
// owned by the engine from here on.
func NewEngine(m *Model, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	if m == nil {
		m = &Model{index: map[string]int{}}
	}
	e := &Engine{
		cfg:    cfg,
		model:  m,
		dx:     make([]float64, len(m.Nodes)),
		dy:     make([]float64, len(m.Nodes)),
		temp:   cfg.Temperature,
		budget: cfg.Iterations,
		last:   math.Inf(1),
		view:   newViewport(cfg),
	}

	n := len(m.Nodes)
	r := cfg.Spread * math.Sqrt(float64(n)) / 2
	for i := range m.Nodes {
		theta := 2 * math.Pi * float64(i) / float64(max(n, 1))
		m.Nodes[i].X = r * math.Cos(theta)
		m.Nodes[i].Y = r * math.Sin(theta)
	}
	return e
}

// Step advances the simulation once and returns the total displacement.
// done is true once the budget is spent or the layout has converged.
func (e *Engine) Step() (displacement float64, done bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step()
}

// Run steps until the budget is spent or displacement drops below epsilon.
func (e *Engine) Run() RunResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run()
}

func (e *Engine) run() RunResult {
	start := e.iter
	for {
		if _, done := e.step(); done {
			break
		}
	}
	return RunResult{
		Iterations:   e.iter - start,
		Converged:    e.last < e.cfg.Epsilon,
		Displacement: e.last,
	}
}

func (e *Engine) settled() bool {
	return e.iter >= e.budget || e.last < e.cfg.Epsilon
}

func (e *Engine) step() (float64, bool) {
	if e.settled() {
		return 0, true
	}

	nodes := e.model.Nodes
	n := len(nodes)
	k := e.cfg.Spread
	for i := range e.dx {
		e.dx[i], e.dy[i] = 0, 0
	}

	// repulsion between every pair
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			ddx, ddy, d := delta(&nodes[i], &nodes[j], i, j)
			f := k * k / d
			fx, fy := ddx/d*f, ddy/d*f
			e.dx[i] += fx
			e.dy[i] += fy
			e.dx[j] -= fx
			e.dy[j] -= fy
		}
	}

	// attraction along edges
	for _, ed := range e.model.Edges {
		u, v := e.model.index[ed.From], e.model.index[ed.To]
		if u == v {
			continue
		}
		ddx, ddy, d := delta(&nodes[v], &nodes[u], v, u)
		f := d * d / k
		fx, fy := ddx/d*f, ddy/d*f
		e.dx[v] -= fx
		e.dy[v] -= fy
		e.dx[u] += fx
		e.dy[u] += fy
	}

	total := 0.0
	for i := range nodes {
		if nodes[i].Pinned {
			continue
		}
		e.dx[i] -= nodes[i].X * e.cfg.Gravity * k
		e.dy[i] -= nodes[i].Y * e.cfg.Gravity * k

		d := math.Hypot(e.dx[i], e.dy[i])
		if d == 0 || !finite(d) {
			continue
		}
		move := math.Min(d, e.temp)
		nodes[i].X += e.dx[i] / d * move
		nodes[i].Y += e.dy[i] / d * move
		total += move
	}

	e.temp *= e.cfg.Cooling
	e.iter++
	e.last = total
	return total, e.settled()
}

// delta returns a - b, its length, and nudges coincident nodes apart
// deterministically so forces stay finite.
func delta(a, b *Node, i, j int) (dx, dy, d float64) {
	dx, dy = a.X-b.X, a.Y-b.Y
	d = math.Hypot(dx, dy)
	if d < 0.01 {
		theta := float64(i*7+j*13) * 0.618
		dx, dy = math.Cos(theta)*0.01, math.Sin(theta)*0.01
		d = 0.01
	}
	return dx, dy, d
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Temperature returns the current simulation temperature.
func (e *Engine) Temperature() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.temp
}

// Drag pins a node at (x, y) in layout coordinates. The simulation no
// longer moves it until Release. A position that is not finite or lies
// beyond MaxCoordinate returns ErrOutOfBounds and leaves the node as is.
func (e *Engine) Drag(id string, x, y float64) error {
	if !finite(x) || !finite(y) || math.Abs(x) > MaxCoordinate || math.Abs(y) > MaxCoordinate {
		return ErrOutOfBounds
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.model.Node(id)
	if !ok {
		return ErrUnknownNode
	}
	n.X, n.Y = x, y
	n.Pinned = true
	return nil
}

// Release unpins a dragged node, reheats the simulation within a fresh
// bounded budget and settles around the node's new position.
func (e *Engine) Release(id string) (RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.model.Node(id)
	if !ok {
		return RunResult{}, ErrUnknownNode
	}
	n.Pinned = false
	e.temp = math.Max(e.temp, e.cfg.Reheat)
	e.budget = e.iter + e.cfg.ReheatIterations
	e.last = math.Inf(1)
	return e.run(), nil
}

// Snapshot is a point-in-time copy of the graph and viewport.
type Snapshot struct {
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Summary  Summary  `json:"summary"`
	Viewport Viewport `json:"viewport"`
}

// Snapshot copies the current model and viewport.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.model.clone()
	return Snapshot{Nodes: m.Nodes, Edges: m.Edges, Summary: m.Summary(), Viewport: e.viewLocked()}
}

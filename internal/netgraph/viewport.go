package netgraph

import "math"

// Zoom limits and step factors.
const (
	MinZoom     = 0.5
	MaxZoom     = 2.5
	ZoomInStep  = 1.2
	ZoomOutStep = 0.8
)

// Viewport maps layout coordinates to the screen. The point (CenterX,
// CenterY) is drawn at the middle of a Width by Height canvas.
type Viewport struct {
	Zoom        float64 `json:"zoom"`
	CenterX     float64 `json:"center_x"`
	CenterY     float64 `json:"center_y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Temperature float64 `json:"temperature"`
}

func newViewport(cfg Config) Viewport {
	return Viewport{Zoom: 1, Width: cfg.Width, Height: cfg.Height}
}

// ToScreen converts a layout position to canvas pixels.
func (v Viewport) ToScreen(x, y float64) (sx, sy float64) {
	return (x-v.CenterX)*v.Zoom + v.Width/2, (y-v.CenterY)*v.Zoom + v.Height/2
}

// FromScreen is the inverse of ToScreen.
func (v Viewport) FromScreen(sx, sy float64) (x, y float64) {
	return (sx-v.Width/2)/v.Zoom + v.CenterX, (sy-v.Height/2)/v.Zoom + v.CenterY
}

func clampZoom(z float64) float64 {
	return math.Min(MaxZoom, math.Max(MinZoom, z))
}

// Viewport returns the current viewport.
func (e *Engine) Viewport() Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// ZoomIn scales by ZoomInStep, capped at MaxZoom.
func (e *Engine) ZoomIn() Viewport {
	return e.zoomBy(ZoomInStep)
}

// ZoomOut scales by ZoomOutStep, floored at MinZoom.
func (e *Engine) ZoomOut() Viewport {
	return e.zoomBy(ZoomOutStep)
}

func (e *Engine) zoomBy(f float64) Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.Zoom = clampZoom(e.view.Zoom * f)
	return e.viewLocked()
}

// SetSize changes the canvas dimensions. Non-positive values are ignored.
func (e *Engine) SetSize(w, h float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w > 0 {
		e.view.Width = w
	}
	if h > 0 {
		e.view.Height = h
	}
}

// ResetView centers the bounding box of all nodes and picks the largest
// zoom that keeps every node, radius included, inside the padded canvas.
// The zoom is still clamped, so a very wide graph can overflow at MinZoom.
func (e *Engine) ResetView() Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()

	nodes := e.model.Nodes
	if len(nodes) == 0 {
		e.view.Zoom, e.view.CenterX, e.view.CenterY = 1, 0, 0
		return e.viewLocked()
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, n := range nodes {
		minX = math.Min(minX, n.X-n.Radius)
		minY = math.Min(minY, n.Y-n.Radius)
		maxX = math.Max(maxX, n.X+n.Radius)
		maxY = math.Max(maxY, n.Y+n.Radius)
	}

	availW := math.Max(e.view.Width-2*e.cfg.Padding, 1)
	availH := math.Max(e.view.Height-2*e.cfg.Padding, 1)
	zoom := MaxZoom
	if bw := maxX - minX; bw > 0 {
		zoom = math.Min(zoom, availW/bw)
	}
	if bh := maxY - minY; bh > 0 {
		zoom = math.Min(zoom, availH/bh)
	}

	e.view.Zoom = clampZoom(zoom)
	e.view.CenterX = (minX + maxX) / 2
	e.view.CenterY = (minY + maxY) / 2
	return e.viewLocked()
}

// CenterOn moves the viewport so the node is at the canvas center,
// keeping the zoom.
func (e *Engine) CenterOn(id string) (Viewport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.model.Node(id)
	if !ok {
		return e.viewLocked(), ErrUnknownNode
	}
	e.view.CenterX, e.view.CenterY = n.X, n.Y
	return e.viewLocked(), nil
}

// Click selects a node and centers on it.
func (e *Engine) Click(id string) (Node, Viewport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.model.Node(id)
	if !ok {
		return Node{}, e.viewLocked(), ErrUnknownNode
	}
	e.view.CenterX, e.view.CenterY = n.X, n.Y
	return *n, e.viewLocked(), nil
}

func (e *Engine) viewLocked() Viewport {
	v := e.view
	v.Temperature = e.temp
	return v
}

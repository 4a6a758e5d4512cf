package dashboardapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/triagedesk/internal/dashboard"
	"github.com/linnemanlabs/triagedesk/internal/netgraph"
)

// graph resolves the surface's engine or writes 404.
func graph(w http.ResponseWriter, r *http.Request) (*netgraph.Engine, bool) {
	g, err := surfaceFrom(r).Graph()
	if errors.Is(err, dashboard.ErrNoBatch) {
		writeError(w, http.StatusNotFound, "no graph for this surface")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return g, true
}

func nodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, netgraph.ErrUnknownNode) {
		writeError(w, http.StatusNotFound, "unknown node")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (a *API) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, ok := graph(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, g.Snapshot())
}

func (a *API) handleZoomIn(w http.ResponseWriter, r *http.Request) {
	if g, ok := graph(w, r); ok {
		writeJSON(w, http.StatusOK, g.ZoomIn())
	}
}

func (a *API) handleZoomOut(w http.ResponseWriter, r *http.Request) {
	if g, ok := graph(w, r); ok {
		writeJSON(w, http.StatusOK, g.ZoomOut())
	}
}

func (a *API) handleResetView(w http.ResponseWriter, r *http.Request) {
	if g, ok := graph(w, r); ok {
		writeJSON(w, http.StatusOK, g.ResetView())
	}
}

func (a *API) handleResize(w http.ResponseWriter, r *http.Request) {
	g, ok := graph(w, r)
	if !ok {
		return
	}
	var body struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Width <= 0 || body.Height <= 0 {
		writeError(w, http.StatusBadRequest, "width and height must be positive")
		return
	}
	g.SetSize(body.Width, body.Height)
	writeJSON(w, http.StatusOK, g.ResetView())
}

func (a *API) handleCenter(w http.ResponseWriter, r *http.Request) {
	g, ok := graph(w, r)
	if !ok {
		return
	}
	vp, err := g.CenterOn(chi.URLParam(r, "node"))
	if err != nil {
		nodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vp)
}

func (a *API) handleClick(w http.ResponseWriter, r *http.Request) {
	g, ok := graph(w, r)
	if !ok {
		return
	}
	node, vp, err := g.Click(chi.URLParam(r, "node"))
	if err != nil {
		nodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node":     node,
		"viewport": vp,
	})
}

func (a *API) handleDrag(w http.ResponseWriter, r *http.Request) {
	g, ok := graph(w, r)
	if !ok {
		return
	}
	var body struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err := g.Drag(chi.URLParam(r, "node"), body.X, body.Y)
	if errors.Is(err, netgraph.ErrOutOfBounds) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		nodeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	g, ok := graph(w, r)
	if !ok {
		return
	}
	res, err := g.Release(chi.URLParam(r, "node"))
	if err != nil {
		nodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

package dashboardapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/linnemanlabs/triagedesk/internal/dashboard"
)

// handleReport returns JSON, or Markdown for ?format=markdown or an Accept
// of text/markdown.
func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	s := surfaceFrom(r)
	snap, err := s.Snapshot()
	if errors.Is(err, dashboard.ErrNoBatch) {
		writeError(w, http.StatusNotFound, "nothing to report")
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to snapshot surface", "surface", string(s.Kind()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	doc := a.reports.Assemble(r.Context(), snap)

	if r.URL.Query().Get("format") != "markdown" && !strings.Contains(r.Header.Get("Accept"), "text/markdown") {
		writeJSON(w, http.StatusOK, doc)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_report_%s.md"`,
		s.Kind(), doc.GeneratedAt.Format("20060102_150405")))
	if err := doc.WriteMarkdown(w); err != nil {
		a.logger.Warn(r.Context(), "report write failed", "error", err.Error())
	}
}

func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	a.stream.HandleWebSocket(w, r, surfaceFrom(r).Kind())
}

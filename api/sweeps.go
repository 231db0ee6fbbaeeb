package api

import (
	"context"
	"net/http"
)

// runSweep triggers one sweep by name and reports the rows it touched.
func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var run func(context.Context) (int, error)
	switch name {
	case "retry":
		run = h.hl.Sweeps().RetryOverdue
	case "stuck":
		run = h.hl.Sweeps().RequeueStuck
	case "timeout":
		run = h.hl.Sweeps().EnforceTimeouts
	case "archive":
		run = h.hl.Sweeps().Archive
	case "purge":
		run = h.hl.Sweeps().Purge
	default:
		writeError(w, http.StatusNotFound, "unknown sweep")
		return
	}

	rows, err := run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sweep": name, "rows": rows})
}

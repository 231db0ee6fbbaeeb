package api

import (
	"net/http"
	"strings"

	"github.com/xraph/hookline/record"
)

// getStats reports live record counts per status.
func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	byStatus := make(map[string]int64, len(record.Statuses()))
	var total int64
	for _, s := range record.Statuses() {
		n, err := h.store.CountByStatus(r.Context(), s)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		byStatus[strings.ToLower(s.String())] = n
		total += n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": byStatus,
	})
}

package api

import (
	"errors"
	"net/http"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/record"
)

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	opts := record.ListOpts{
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
		Provider:  queryParam(r, "provider"),
		Reference: queryParam(r, "reference"),
	}

	if label := queryParam(r, "status"); label != "" {
		status, ok := statusFromLabel(label)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		opts.Status = &status
	}

	records, err := h.store.ListRecords(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	recID, err := parseRecordID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record ID")
		return
	}

	rec, getErr := h.store.GetRecord(r.Context(), recID)
	if getErr != nil {
		if errors.Is(getErr, hookline.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) cancelRecord(w http.ResponseWriter, r *http.Request) {
	recID, err := parseRecordID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record ID")
		return
	}

	rec, cancelErr := h.hl.Cancel(r.Context(), recID)
	if cancelErr != nil {
		switch {
		case errors.Is(cancelErr, hookline.ErrRecordNotFound):
			writeError(w, http.StatusNotFound, "record not found")
		case errors.Is(cancelErr, hookline.ErrTerminalState):
			writeError(w, http.StatusConflict, "record is in a terminal state")
		default:
			writeError(w, http.StatusInternalServerError, cancelErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) requeueRecord(w http.ResponseWriter, r *http.Request) {
	recID, err := parseRecordID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record ID")
		return
	}

	rec, requeueErr := h.hl.Requeue(r.Context(), recID)
	if requeueErr != nil {
		if errors.Is(requeueErr, hookline.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, requeueErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// statusFromLabel maps a status label ("queued", "failed", ...) back to the
// enum value.
func statusFromLabel(label string) (record.Status, bool) {
	for _, s := range record.Statuses() {
		if s.Label() == label {
			return s, true
		}
	}
	return 0, false
}

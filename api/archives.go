package api

import (
	"errors"
	"net/http"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/record"
)

func parseRecordID(r *http.Request) (id.ID, error) {
	return id.ParseRecordID(r.PathValue("id"))
}

func (h *Handler) listArchives(w http.ResponseWriter, r *http.Request) {
	opts := record.ListOpts{
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
		Provider:  queryParam(r, "provider"),
		Reference: queryParam(r, "reference"),
	}

	archives, err := h.store.ListArchives(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, archives)
}

func (h *Handler) getArchive(w http.ResponseWriter, r *http.Request) {
	recID, err := parseRecordID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record ID")
		return
	}

	arc, getErr := h.store.GetArchive(r.Context(), recID)
	if getErr != nil {
		if errors.Is(getErr, hookline.ErrArchiveNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, arc)
}

func (h *Handler) restoreArchive(w http.ResponseWriter, r *http.Request) {
	recID, err := parseRecordID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record ID")
		return
	}

	rec, restoreErr := h.hl.RestoreArchive(r.Context(), recID)
	if restoreErr != nil {
		if errors.Is(restoreErr, hookline.ErrArchiveNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		writeError(w, http.StatusInternalServerError, restoreErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

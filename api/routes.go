package api

import (
	"errors"
	"net/http"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/route"
)

func (h *Handler) listRoutes(w http.ResponseWriter, r *http.Request) {
	opts := route.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Method: queryParam(r, "method"),
	}

	routes, err := h.store.ListRoutes(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, routes)
}

func (h *Handler) getRoute(w http.ResponseWriter, r *http.Request) {
	rtID, err := id.ParseRouteID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid route ID")
		return
	}

	rt, getErr := h.store.GetRoute(r.Context(), rtID)
	if getErr != nil {
		if errors.Is(getErr, hookline.ErrRouteNotFound) {
			writeError(w, http.StatusNotFound, "route not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, rt)
}

func (h *Handler) seedRoutes(w http.ResponseWriter, r *http.Request) {
	var seeds []route.Seed
	if err := decodeJSON(r, &seeds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := h.hl.SeedRoutes(r.Context(), seeds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"written": n})
}

func (h *Handler) flushRouteCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.hl.FlushRouteCache(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"evicted": n})
}

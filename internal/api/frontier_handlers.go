package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/bssid"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
)

const (
	defaultLocatedLimit = 100
	maxLocatedLimit     = 1000
)

// frontierHandler exposes read-only frontier endpoints.
type frontierHandler struct {
	store   Frontier
	timeout time.Duration
	logger  *zap.Logger
}

func newFrontierHandler(store Frontier, timeout time.Duration, logger *zap.Logger) *frontierHandler {
	return &frontierHandler{store: store, timeout: timeout, logger: logger}
}

// Stats handles GET /v1/frontier. It returns {"frontier": {...}} or 500 when
// the store cannot be read.
func (h *frontierHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		h.logger.Error("frontier stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read frontier", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"frontier": stats}, h.logger)
}

// GetAccessPoint handles GET /v1/access-points/{bssid}. The path value may
// use any accepted MAC spelling; 400 for malformed input, 404 when unknown.
func (h *frontierHandler) GetAccessPoint(w http.ResponseWriter, r *http.Request) {
	canonical, err := bssid.Canonicalize(chi.URLParam(r, "bssid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bssid", h.logger)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, err := h.store.Get(ctx, canonical)
	if err != nil {
		if errors.Is(err, frontier.ErrNotFound) {
			writeError(w, http.StatusNotFound, "access point not found", h.logger)
			return
		}
		h.logger.Error("get access point failed", zap.String("bssid", canonical), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load access point", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_point": rec}, h.logger)
}

// ListLocated handles GET /v1/access-points?limit=&offset=, returning located
// records in storage order.
func (h *frontierHandler) ListLocated(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultLocatedLimit, maxLocatedLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), h.logger)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.store.Located(ctx)
	if err != nil {
		h.logger.Error("list located failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list access points", h.logger)
		return
	}
	total := len(records)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_points": records[offset:end],
		"total":         total,
	}, h.logger)
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

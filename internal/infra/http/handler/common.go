// Package handler holds the HTTP handlers of the control API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/openctemio/webhooks/internal/infra/http/middleware"
	"github.com/openctemio/webhooks/pkg/apierror"
	"github.com/openctemio/webhooks/pkg/logger"
)

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON document into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) *apierror.Error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		switch {
		case middleware.IsBodyTooLarge(err):
			return apierror.PayloadTooLarge("Request body too large")
		case errors.Is(err, io.EOF):
			return apierror.BadRequest("Request body is required")
		default:
			return apierror.SafeBadRequest(err)
		}
	}
	if dec.More() {
		return apierror.BadRequest("Request body must contain a single JSON object")
	}
	return nil
}

// writeError maps err to an API error, logging server-side failures.
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	apiErr := apierror.FromError(err)
	requestID := middleware.GetRequestID(r.Context())
	if apiErr.Status >= http.StatusInternalServerError {
		log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"user_id", middleware.GetUserID(r.Context()),
			"request_id", requestID,
			"error", err,
		)
	}
	apiErr.WriteJSONWithRequestID(w, requestID)
}

// requireUser returns the authenticated user or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		apierror.Unauthorized("Authentication required").WriteJSON(w)
		return "", false
	}
	return userID, true
}

// parseQueryInt parses a query parameter as an integer.
// Returns defaultVal if the input is empty or invalid.
func parseQueryInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return val
}

// formatETag quotes a version token as a strong entity tag.
func formatETag(version string) string {
	if version == "" {
		return ""
	}
	return `"` + version + `"`
}

// parseIfMatch extracts a version token from an If-Match header. "*" and an
// absent header both mean any version.
func parseIfMatch(header string) string {
	header = strings.TrimSpace(header)
	if header == "" || header == "*" {
		return ""
	}
	if first, _, ok := strings.Cut(header, ","); ok {
		header = strings.TrimSpace(first)
	}
	header = strings.TrimPrefix(header, "W/")
	return strings.Trim(header, `"`)
}

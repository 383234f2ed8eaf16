// README: Base handler utilities (JSON helpers, error mapping, caller checks).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"maat/internal/apperr"
	"maat/internal/http/middleware"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Shortfall int64  `json:"shortfall,omitempty"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: code, Message: msg})
}

// writeAppError maps an error kind to its HTTP status. Unclassified errors are logged
// through gin and reported as a bare 500.
func writeAppError(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	resp := errorResponse{Error: e.Code, Message: e.Message}
	switch e.Kind {
	case apperr.KindValidation:
		writeJSON(c, http.StatusBadRequest, resp)
	case apperr.KindUnauthorized:
		writeJSON(c, http.StatusUnauthorized, resp)
	case apperr.KindNotFound:
		writeJSON(c, http.StatusNotFound, resp)
	case apperr.KindConflict:
		writeJSON(c, http.StatusConflict, resp)
	case apperr.KindInsufficientFunds:
		resp.Shortfall = e.Shortfall
		writeJSON(c, http.StatusPaymentRequired, resp)
	case apperr.KindTransient:
		_ = c.Error(err)
		c.Header("Retry-After", "1")
		writeJSON(c, http.StatusServiceUnavailable, resp)
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal", "internal error")
	}
}

// selfOrAdmin allows admins, and riders acting on their own id.
func selfOrAdmin(c *gin.Context, riderID string) bool {
	if middleware.IsAdmin(c) || middleware.CallerUID(c) == riderID {
		return true
	}
	writeError(c, http.StatusForbidden, "forbidden", "not allowed for this rider")
	return false
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid limit")
		return 0, false
	}
	return n, true
}

package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kolpulse/internal/broadcast"
	"kolpulse/internal/fetcher"
	"kolpulse/internal/refresh"
	"kolpulse/internal/storage"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are 500
// and their text is not exposed.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var cd *refresh.CooldownError
	switch {
	case errors.As(err, &cd):
		secs := int(math.Ceil(cd.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
		c.JSON(http.StatusTooManyRequests, errorBody{Error: err.Error(), Code: "cooldown"})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: "not found", Code: "not_found"})
	case errors.Is(err, refresh.ErrNoExternalRef):
		c.JSON(http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "no_external_ref"})
	case errors.Is(err, fetcher.ErrAllProvidersExhausted):
		c.JSON(http.StatusBadGateway, errorBody{Error: err.Error(), Code: "providers_exhausted"})
	case errors.Is(err, broadcast.ErrTargetSetEmpty):
		c.JSON(http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "target_set_empty"})
	case errors.Is(err, broadcast.ErrInvalid):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid"})
	case errors.Is(err, broadcast.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "queue_full"})
	default:
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: msg, Code: "invalid"})
}

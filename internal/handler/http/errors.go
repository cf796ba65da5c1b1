package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ephemeral-relay/internal/service"
)

// HandleServiceError maps business errors onto HTTP statuses. Error
// messages double as wire error codes.
func HandleServiceError(c *gin.Context, err error) {
	var rateLimited *service.RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate_limited",
			"retry_after": rateLimited.RetryAfter,
		})
	case errors.Is(err, service.ErrRoomNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrRoomExists):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidRoomHash),
		errors.Is(err, service.ErrMissingContent),
		errors.Is(err, service.ErrInvalidGossip):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUpstreamUnavailable):
		ErrorResponse(c, http.StatusBadGateway, err.Error())
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

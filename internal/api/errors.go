package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/badal-health/risk-server/internal/domain"
	"github.com/badal-health/risk-server/internal/middleware"
)

// respondError maps err onto the error envelope. Internal failures are
// logged and reported without their message.
func (s *Server) respondError(c *gin.Context, err error) {
	status, apiErr := s.toAPIError(c, err)
	c.AbortWithStatusJSON(status, apiErr)
}

func (s *Server) toAPIError(c *gin.Context, err error) (int, *domain.APIError) {
	requestID := middleware.GetCorrelationID(c)

	var validation *domain.ValidationError
	var notFound *domain.NotFoundError
	var maxErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, domain.NewAPIError(
			domain.CodePayloadTooLarge, "Request body too large", "", requestID)
	case errors.As(err, &validation):
		return http.StatusBadRequest, domain.NewAPIError(
			domain.CodeValidation, validation.Message, validation.Field, requestID)
	case errors.As(err, &notFound):
		return http.StatusNotFound, domain.NewAPIError(
			domain.CodeNotFound, notFound.Error(), "", requestID)
	case errors.Is(err, domain.ErrStorageDisabled):
		return http.StatusServiceUnavailable, domain.NewAPIError(
			domain.CodeServiceUnavailable, "Patient storage is not configured", "", requestID)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, domain.NewAPIError(
			domain.CodeTimeout, "Request timed out", "", requestID)
	}

	s.logger.WithFields(logrus.Fields{
		"correlation_id": requestID,
		"path":           c.FullPath(),
		"error":          err,
	}).Error("Request failed")

	return http.StatusInternalServerError, domain.NewAPIError(
		domain.CodeInternalServer, "Internal server error", "", requestID)
}

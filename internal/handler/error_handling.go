package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"manga-server/internal/models"
	"manga-server/pkg/taskmanager"
)

// statusFor переводит ошибку сервиса в HTTP-статус.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, taskmanager.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrNotRetryable),
		errors.Is(err, taskmanager.ErrResourceBusy):
		return http.StatusConflict
	case errors.Is(err, models.ErrStorageUnavailable), errors.Is(err, taskmanager.ErrTooManyTasks),
		errors.Is(err, taskmanager.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrUpstreamFailure):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *AdminHandler) handleServiceError(c *gin.Context, err error) {
	status := statusFor(err)
	apiErr := models.APIError{Message: err.Error()}

	switch {
	case errors.Is(err, taskmanager.ErrTooManyTasks):
		apiErr.Message = "Job queue is full, try again later"
	case errors.Is(err, taskmanager.ErrResourceBusy):
		apiErr.Message = models.ErrResourceBusy.Error()
	case status == http.StatusBadGateway:
		h.logger.Warn("Upstream failure", zap.String("path", c.FullPath()), zap.Error(err))
	case status == http.StatusInternalServerError:
		h.logger.Error("Unhandled internal error", zap.String("path", c.FullPath()), zap.Error(err))
		apiErr.Message = "An unexpected internal error occurred"
	}

	c.AbortWithStatusJSON(status, apiErr)
}

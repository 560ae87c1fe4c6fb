package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// errorResponse: тело ответа с ошибкой. Сообщение всегда конкретное.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor переводит класс доменной ошибки в HTTP-статус.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIntegrity):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// newErrorHandler: единая точка преобразования ошибок в ответы.
// Внутренние ошибки логируются, клиент получает общее сообщение.
func newErrorHandler(logger *log.Entry) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status  int
			message string
		)
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
			if msg, ok := httpErr.Message.(string); ok {
				message = msg
			} else {
				message = http.StatusText(status)
			}
		} else {
			status = statusFor(err)
			message = err.Error()
		}

		entry := logger.WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
			"status": status,
		}).WithError(err)
		switch {
		case status >= 500:
			entry.Error("request failed")
			message = "internal error"
		case errors.Is(err, domain.ErrIntegrity):
			entry.Error("payment integrity check failed")
		default:
			entry.Debug("request rejected")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, errorResponse{Error: message})
		}
		if err != nil {
			logger.WithError(err).Warn("failed to write error response")
		}
	}
}

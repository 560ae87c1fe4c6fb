package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/metrics"
	"github.com/vladislavdragonenkov/pdfstore/internal/ratelimit"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/idempotency"
)

const maxBodyBytes = 1 << 20

// requestLogger пишет одну строку на запрос через logrus.
func requestLogger(logger *log.Entry, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// статус появляется в ответе только после обработчика ошибок
				c.Error(err)
			}

			status := c.Response().Status
			duration := time.Since(start)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.Observe(c.Request().Method, route, strconv.Itoa(status), duration)

			entry := logger.WithFields(log.Fields{
				"method":      c.Request().Method,
				"route":       route,
				"status":      status,
				"duration_ms": duration.Milliseconds(),
				"remote_ip":   c.RealIP(),
				"request_id":  c.Response().Header().Get(echo.HeaderXRequestID),
			})
			if status >= 500 {
				entry.Warn("http request")
			} else {
				entry.Info("http request")
			}
			return nil
		}
	}
}

// rateLimit ограничивает частоту запросов с одного IP.
// Ошибка лимитера не блокирует покупку: запрос пропускается.
func rateLimit(limiter ratelimit.Limiter, logger *log.Entry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			allowed, err := limiter.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				logger.WithError(err).Warn("rate limiter failed, request allowed")
				return next(c)
			}
			if !allowed {
				return domain.ErrTooManyRequests
			}
			return next(c)
		}
	}
}

// idempotent повторяет сохранённый ответ для запроса с тем же Idempotency-Key.
// Без заголовка запрос обрабатывается как обычно.
func idempotent(guard *idempotency.Guard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get("Idempotency-Key")
			if key == "" {
				return next(c)
			}

			body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
			if err != nil {
				return domain.Validationf("cannot read request body")
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))

			ctx := c.Request().Context()
			hash := idempotency.HashRequest(c.Request().Method+" "+c.Path(), body)
			scope := idempotencyScope(c)
			stored, replay, err := guard.Begin(ctx, scope, key, hash)
			if err != nil {
				return err
			}
			if replay {
				c.Response().Header().Set("Idempotent-Replayed", "true")
				return c.JSONBlob(stored.Status, stored.Body)
			}

			rec := &recordingWriter{ResponseWriter: c.Response().Writer}
			c.Response().Writer = rec

			if err := next(c); err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			if status == 0 {
				status = http.StatusOK
			}
			guard.Complete(ctx, scope, key, status, rec.body.Bytes())
			return nil
		}
	}
}

// idempotencyScope: владелец ключа. Пользователь с сессией, иначе адрес клиента.
func idempotencyScope(c echo.Context) string {
	if session, ok := sessionFrom(c); ok && session.UserID != "" {
		return "user:" + session.UserID
	}
	return "ip:" + c.RealIP()
}

// recordingWriter копирует тело ответа для сохранения.
type recordingWriter struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.body.Len() < maxBodyBytes {
		w.body.Write(p)
	}
	return w.ResponseWriter.Write(p)
}

package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bizfin-insight/internal/app"
	"bizfin-insight/internal/transport/http/middleware"
	"bizfin-insight/internal/transport/http/response"
)

type tokenUser struct {
	ID         uint
	Username   string
	Role       string
	Department string
}

func currentUser(c *gin.Context) (tokenUser, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return tokenUser{}, false
	}
	userID, ok := userIDAny.(uint)
	if !ok || userID == 0 {
		return tokenUser{}, false
	}
	return tokenUser{
		ID:         userID,
		Username:   c.GetString(middleware.ContextUsernameKey),
		Role:       c.GetString(middleware.ContextRoleKey),
		Department: c.GetString(middleware.ContextDepartmentKey),
	}, true
}

// serviceError maps app errors to a status, code and client message.
func serviceError(err error, fallback string) (int, int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest, response.CodeBadRequest, err.Error()
	case errors.Is(err, app.ErrUnsupportedFile):
		return http.StatusBadRequest, response.CodeUnsupportedFile, err.Error()
	case errors.Is(err, app.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, err.Error()
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, response.CodeForbidden, err.Error()
	case errors.Is(err, app.ErrDocumentNotFound):
		return http.StatusNotFound, response.CodeDocumentNotFound, err.Error()
	case errors.Is(err, app.ErrProviderConfig):
		return http.StatusInternalServerError, response.CodeProviderConfig, app.ErrProviderConfig.Error()
	case errors.Is(err, app.ErrProviderAuth):
		return http.StatusBadGateway, response.CodeProviderAuth, app.ErrProviderAuth.Error()
	case errors.Is(err, app.ErrProviderRateLimited):
		return http.StatusTooManyRequests, response.CodeRateLimited, app.ErrProviderRateLimited.Error() + ", retry later"
	case errors.Is(err, app.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, response.CodeProviderUnavailable, app.ErrProviderUnavailable.Error()
	case errors.Is(err, app.ErrAnalysisFailed):
		return http.StatusInternalServerError, response.CodeAnalysisFailed, app.ErrAnalysisFailed.Error()
	case errors.Is(err, app.ErrReportFailed):
		return http.StatusInternalServerError, response.CodeReportFailed, app.ErrReportFailed.Error()
	default:
		return http.StatusInternalServerError, response.CodeInternalServer, fallback
	}
}

func writeServiceError(c *gin.Context, err error, fallback string) {
	status, code, msg := serviceError(err, fallback)
	_ = c.Error(err)
	response.Error(c, status, code, msg)
}

// sseWriter writes server-sent events straight to the response.
type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
}

func startSSE(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return nil, false
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &sseWriter{c: c, flusher: flusher}, true
}

func (w *sseWriter) send(event, data string) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: " + event + "\n")
	}
	b.WriteString("data: " + sanitizeSSE(data) + "\n\n")
	if _, err := w.c.Writer.Write([]byte(b.String())); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) sendJSON(event string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode sse payload failed: %w", err)
	}
	return w.send(event, string(raw))
}

func (w *sseWriter) comment(text string) error {
	if _, err := w.c.Writer.Write([]byte(": " + text + "\n\n")); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}

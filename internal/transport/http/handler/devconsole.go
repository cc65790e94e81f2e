package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bizfin-insight/internal/eventlog"
	"bizfin-insight/internal/model"
	"bizfin-insight/internal/repository"
	"bizfin-insight/internal/transport/http/response"
)

const (
	defaultLogLimit   = 100
	heartbeatInterval = 25 * time.Second
)

// EventHistory reads persisted events.
type EventHistory interface {
	List(ctx context.Context, q repository.EventQuery) ([]model.EventRecord, error)
}

type DevConsoleHandler struct {
	hub     *eventlog.Hub
	history EventHistory
}

// NewDevConsoleHandler serves the live event log. history may be nil when
// events are not persisted.
func NewDevConsoleHandler(hub *eventlog.Hub, history EventHistory) *DevConsoleHandler {
	return &DevConsoleHandler{hub: hub, history: history}
}

func (h *DevConsoleHandler) Logs(c *gin.Context) {
	start, end, limit, ok := timeWindow(c)
	if !ok {
		return
	}
	response.OK(c, h.hub.Logs(eventlog.Filter{
		Type:     eventlog.Type(c.Query("type")),
		Category: c.Query("category"),
		Start:    start,
		End:      end,
		Limit:    limit,
	}))
}

func (h *DevConsoleHandler) Stats(c *gin.Context) {
	response.OK(c, h.hub.Stats())
}

func (h *DevConsoleHandler) Clear(c *gin.Context) {
	h.hub.Clear()
	response.OK(c, gin.H{"cleared": true})
}

func (h *DevConsoleHandler) History(c *gin.Context) {
	if h.history == nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeInternalServer, "event persistence is disabled")
		return
	}
	start, end, limit, ok := timeWindow(c)
	if !ok {
		return
	}
	records, err := h.history.List(c.Request.Context(), repository.EventQuery{
		Type:     c.Query("type"),
		Category: c.Query("category"),
		Since:    start,
		Until:    end,
		Limit:    limit,
	})
	if err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load event history failed")
		return
	}
	response.OK(c, records)
}

// Stream pushes new entries as "log" events and clears as "clear" events
// until the client goes away.
func (h *DevConsoleHandler) Stream(c *gin.Context) {
	w, ok := startSSE(c)
	if !ok {
		return
	}
	notices, cancel := h.hub.Subscribe(0)
	defer cancel()

	if err := w.sendJSON("connected", gin.H{"stats": h.hub.Stats()}); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.comment("ping"); err != nil {
				return
			}
		case n, open := <-notices:
			if !open {
				return
			}
			var err error
			if n.Cleared {
				err = w.send("clear", "{}")
			} else {
				err = w.sendJSON("log", n.Entry)
			}
			if err != nil {
				return
			}
		}
	}
}

func timeWindow(c *gin.Context) (time.Time, time.Time, int, bool) {
	var start, end time.Time
	var err error
	if raw := c.Query("startTime"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "startTime must be RFC3339")
			return start, end, 0, false
		}
	}
	if raw := c.Query("endTime"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "endTime must be RFC3339")
			return start, end, 0, false
		}
	}
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil && parsed > 0 {
			limit = parsed
		}
	}
	return start, end, limit, true
}

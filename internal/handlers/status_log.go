package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mdario971/cactus-flasher/internal/service"
)

// deleteEntryRequest names one status log entry. Query parameters work too.
type deleteEntryRequest struct {
	Timestamp string `json:"timestamp" example:"2026-03-01T10:00:00.123456Z"`
	BoardName string `json:"board_name" example:"cactus-sentinel"`
}

// @Summary      Status log
// @Description  Online/offline transitions, newest first.
// @Tags         status-log
// @Produce      json
// @Param        limit  query     int     false  "Max entries (default 100, max 500)"
// @Param        board  query     string  false  "Only this board"
// @Success      200    {object}  map[string]interface{}  "logs"
// @Failure      400    {object}  map[string]string
// @Router       /api/boards/status-log [get]
// @Security     BearerAuth
func (h *Handler) getStatusLog(c *gin.Context) {
	f := service.LogFilter{Board: c.Query("board")}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit'; use a positive integer"})
			return
		}
		f.Limit = n
	}
	entries, err := h.services.StatusLog.List(c.Request.Context(), f)
	if err != nil {
		h.respondServiceError(c, "status_log_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

// @Summary      Delete a status log entry
// @Tags         status-log
// @Accept       json
// @Produce      json
// @Param        timestamp  query     string              false  "Entry timestamp (RFC3339)"
// @Param        board      query     string              false  "Entry board"
// @Param        body       body      deleteEntryRequest  false  "Entry"
// @Success      200        {object}  map[string]string
// @Failure      400        {object}  map[string]string
// @Failure      404        {object}  map[string]string
// @Router       /api/boards/status-log [delete]
// @Security     BearerAuth
func (h *Handler) deleteStatusLogEntry(c *gin.Context) {
	req := deleteEntryRequest{Timestamp: c.Query("timestamp"), BoardName: c.Query("board")}
	if req.Timestamp == "" && c.Request.ContentLength != 0 {
		if ok := h.bindJSONOrBadRequest(c, &req); !ok {
			return
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(req.Timestamp))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'timestamp'; use RFC3339"})
		return
	}
	if err := h.services.StatusLog.DeleteEntry(c.Request.Context(), ts, req.BoardName); err != nil {
		h.respondServiceError(c, "status_log_delete_failed", err, "board", req.BoardName)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Log entry deleted"})
}

// @Summary      Clear the status log
// @Tags         status-log
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /api/boards/status-log/all [delete]
// @Security     BearerAuth
func (h *Handler) clearStatusLog(c *gin.Context) {
	if err := h.services.StatusLog.Clear(c.Request.Context()); err != nil {
		h.respondServiceError(c, "status_log_clear_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Status log cleared"})
}

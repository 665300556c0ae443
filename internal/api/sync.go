package api

import (
	"errors"
	"net/http"
	"strconv"

	"comanda/internal/models"
	syncengine "comanda/internal/sync"

	"github.com/gin-gonic/gin"
)

// SyncBatch receives one flushed operation batch from a terminal and
// returns the per-operation results plus the id remapping table. A
// structural failure (cycle, oversized or malformed batch) comes back as
// 400 with outcome "failed" and nothing applied; the terminal keeps its
// queue and may retry after fixing itself.
func (s *Server) SyncBatch(c *gin.Context) {
	var req models.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.sync.Sync(c.Request.Context(), ClientID(c), req.Operations)
	if err != nil {
		if errors.Is(err, syncengine.ErrBatchTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, resp)
			return
		}
		if resp != nil {
			// Structural batch failure, durably recorded.
			c.JSON(http.StatusBadRequest, resp)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListBatches returns recent batch summaries for the calling terminal.
func (s *Server) ListBatches(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	batches, err := syncengine.NewAuditLog(s.db).BatchHistory(ClientID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, batches)
}

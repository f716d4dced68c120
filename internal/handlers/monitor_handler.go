package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quisin/payments-core/internal/service"
)

type MonitorHandler struct {
	monitor *service.Monitor
}

func NewMonitorHandler(monitor *service.Monitor) *MonitorHandler {
	return &MonitorHandler{monitor: monitor}
}

func (h *MonitorHandler) GetRecentTransactions(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.RecentTransactions())
}

func (h *MonitorHandler) GetTransactionHistory(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	c.JSON(http.StatusOK, h.monitor.TransactionHistory(userID))
}

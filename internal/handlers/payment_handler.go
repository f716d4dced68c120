package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quisin/payments-core/internal/apperr"
	"github.com/quisin/payments-core/internal/models"
	"github.com/quisin/payments-core/internal/service"
	"github.com/quisin/payments-core/internal/telemetry"
)

type PaymentHandler struct {
	ledger *service.Ledger
}

func NewPaymentHandler(ledger *service.Ledger) *PaymentHandler {
	return &PaymentHandler{ledger: ledger}
}

func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	payment, err := h.ledger.CreatePayment(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Error creating payment")
		return
	}

	c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) CreateSplitPayment(c *gin.Context) {
	var req models.CreateSplitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	payment, err := h.ledger.CreateSplitPayment(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Error creating split payment")
		return
	}

	c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) UpdatePaymentStatus(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	var req models.UpdatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	payment, err := h.ledger.UpdatePaymentStatus(c.Request.Context(), paymentID, req)
	if err != nil {
		respondError(c, err, "Error updating payment status")
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) GetPaymentsByUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var status *models.PaymentStatus
	if s := c.Query("status"); s != "" {
		parsed := models.PaymentStatus(s)
		if !parsed.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		status = &parsed
	}

	payments, err := h.ledger.GetPaymentsByUser(c.Request.Context(), userID, status)
	if err != nil {
		respondError(c, err, "Error listing payments")
		return
	}

	c.JSON(http.StatusOK, payments)
}

func (h *PaymentHandler) GetPaymentSplits(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	splits, err := h.ledger.GetPaymentSplits(c.Request.Context(), paymentID)
	if err != nil {
		respondError(c, err, "Error listing payment splits")
		return
	}

	c.JSON(http.StatusOK, splits)
}

func respondError(c *gin.Context, err error, logMsg string) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		telemetry.Logger.Error(logMsg, zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	message := err.Error()
	if ae, ok := apperr.As(err); ok {
		message = ae.Message
	}
	c.JSON(status, gin.H{"error": message})
}

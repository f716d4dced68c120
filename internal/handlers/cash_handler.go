package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quisin/payments-core/internal/service"
)

// CashHandler covers the staff-facing cash settlement flow: cash payments
// stay PENDING until a staff member confirms the money changed hands.
type CashHandler struct {
	ledger *service.Ledger
}

func NewCashHandler(ledger *service.Ledger) *CashHandler {
	return &CashHandler{ledger: ledger}
}

func (h *CashHandler) ConfirmCashPayment(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	amountReceived := c.Query("amountReceived")
	staffID, err := uuid.Parse(c.Query("staffId"))
	if err != nil || amountReceived == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amountReceived and staffId are required"})
		return
	}

	payment, err := h.ledger.ConfirmCashPayment(c.Request.Context(), paymentID, amountReceived, staffID)
	if err != nil {
		respondError(c, err, "Error confirming cash payment")
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *CashHandler) CancelCashPayment(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	reason := c.Query("reason")
	staffID, err := uuid.Parse(c.Query("staffId"))
	if err != nil || reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason and staffId are required"})
		return
	}

	payment, err := h.ledger.CancelCashPayment(c.Request.Context(), paymentID, reason, staffID)
	if err != nil {
		respondError(c, err, "Error cancelling cash payment")
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *CashHandler) GetPendingCashPayments(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Query("restaurantId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "restaurantId is required"})
		return
	}

	payments, err := h.ledger.GetPendingCashPayments(c.Request.Context(), restaurantID)
	if err != nil {
		respondError(c, err, "Error listing pending cash payments")
		return
	}

	c.JSON(http.StatusOK, payments)
}

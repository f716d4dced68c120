// Package webhooks ingests asynchronous provider callbacks and reconciles
// them into ledger state. Handlers fail closed: a missing or invalid
// signature means no status update is applied.
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quisin/payments-core/internal/apperr"
	"github.com/quisin/payments-core/internal/models"
	"github.com/quisin/payments-core/internal/telemetry"
)

const dedupTTL = 24 * time.Hour

type Config struct {
	MpesaWebhookSecret    string
	StripeWebhookSecret   string
	PayPalWebhookID       string
	PayPalWebhookSecret   string
	CoinbaseWebhookSecret string
}

// ledger is the slice of the payment ledger the reconciler needs.
type ledger interface {
	UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, req models.UpdatePaymentRequest) (*models.Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
}

// Deduper remembers delivered webhook event ids so redelivery is a no-op.
// An event is marked seen only after its status update succeeds; a retry
// after a transient reconciliation failure must not be swallowed.
type Deduper interface {
	AlreadySeen(ctx context.Context, provider, eventID string) bool
	MarkSeen(ctx context.Context, provider, eventID string)
}

type RedisDeduper struct {
	rdb *redis.Client
}

func NewRedisDeduper(rdb *redis.Client) *RedisDeduper {
	return &RedisDeduper{rdb: rdb}
}

func (d *RedisDeduper) AlreadySeen(ctx context.Context, provider, eventID string) bool {
	if d.rdb == nil || eventID == "" {
		return false
	}
	n, err := d.rdb.Exists(ctx, dedupKey(provider, eventID)).Result()
	if err != nil {
		// Dedup is best-effort; the status update itself is idempotent.
		telemetry.Logger.Warn("Webhook dedup check failed", zap.Error(err))
		return false
	}
	return n > 0
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, provider, eventID string) {
	if d.rdb == nil || eventID == "" {
		return
	}
	if err := d.rdb.Set(ctx, dedupKey(provider, eventID), "1", dedupTTL).Err(); err != nil {
		telemetry.Logger.Warn("Webhook dedup record failed", zap.Error(err))
	}
}

func dedupKey(provider, eventID string) string {
	return fmt.Sprintf("webhook:event:%s:%s", provider, eventID)
}

type Reconciler struct {
	ledger ledger
	dedup  Deduper
	cfg    Config
}

func NewReconciler(l ledger, dedup Deduper, cfg Config) *Reconciler {
	return &Reconciler{ledger: l, dedup: dedup, cfg: cfg}
}

type mpesaPayload struct {
	MerchantRequestID  string `json:"merchantRequestId"`
	CheckoutRequestID  string `json:"checkoutRequestId"`
	ResultCode         string `json:"resultCode"`
	ResultDesc         string `json:"resultDesc"`
	MpesaReceiptNumber string `json:"mpesaReceiptNumber"`
	TransactionDate    string `json:"transactionDate"`
	PhoneNumber        string `json:"phoneNumber"`
	Amount             string `json:"amount"`
}

// HandleMpesa reconciles an STK push result. The merchant request id carries
// our payment id; the M-Pesa receipt number becomes the settled transaction
// id.
func (r *Reconciler) HandleMpesa(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader("X-Mpesa-Signature")
	if !verifyBase64HMAC(r.cfg.MpesaWebhookSecret, body, signature) {
		r.reject(c, "mpesa", "bad_signature")
		return
	}

	var payload mpesaPayload
	if err := bindJSON(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if r.dedup.AlreadySeen(c.Request.Context(), "mpesa", payload.CheckoutRequestID) {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	paymentID, err := uuid.Parse(payload.MerchantRequestID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid merchant request id"})
		return
	}

	status := models.StatusFailed
	if payload.ResultCode == "0" {
		status = models.StatusSuccessful
	}

	r.applyUpdate(c, "mpesa", payload.CheckoutRequestID, paymentID, models.UpdatePaymentRequest{
		Status:                status,
		ExternalTransactionID: payload.MpesaReceiptNumber,
		Metadata: map[string]string{
			"mpesaResultDesc": payload.ResultDesc,
			"phoneNumber":     payload.PhoneNumber,
		},
	})
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// HandleStripe verifies the Stripe-Signature scheme (t=timestamp,v1=HMAC of
// "timestamp.body") and maps the event type onto the charge we created.
func (r *Reconciler) HandleStripe(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !verifyStripeSignature(r.cfg.StripeWebhookSecret, body, c.GetHeader("Stripe-Signature")) {
		r.reject(c, "stripe", "bad_signature")
		return
	}

	var event stripeEvent
	if err := bindJSON(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if r.dedup.AlreadySeen(c.Request.Context(), "stripe", event.ID) {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	var status models.PaymentStatus
	switch event.Type {
	case "charge.succeeded", "payment_intent.succeeded":
		status = models.StatusSuccessful
	case "charge.failed", "payment_intent.payment_failed":
		status = models.StatusFailed
	case "charge.pending", "payment_intent.processing":
		status = models.StatusPending
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	r.reconcileByExternalID(c, "stripe", event.ID, event.Data.Object.ID, models.UpdatePaymentRequest{Status: status})
}

type paypalEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID            string `json:"id"`
		ParentPayment string `json:"parent_payment"`
	} `json:"resource"`
}

// HandlePayPal verifies the transmission signature (HMAC over
// transmissionID|timestamp|webhookID|crc32(body)) and reconciles sale events.
func (r *Reconciler) HandlePayPal(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	transmissionID := c.GetHeader("PayPal-Transmission-Id")
	transmissionTime := c.GetHeader("PayPal-Transmission-Time")
	signature := c.GetHeader("PayPal-Transmission-Sig")
	if !verifyPayPalSignature(r.cfg.PayPalWebhookSecret, r.cfg.PayPalWebhookID, transmissionID, transmissionTime, body, signature) {
		r.reject(c, "paypal", "bad_signature")
		return
	}

	var event paypalEvent
	if err := bindJSON(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if r.dedup.AlreadySeen(c.Request.Context(), "paypal", event.ID) {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	var status models.PaymentStatus
	switch event.EventType {
	case "PAYMENT.SALE.COMPLETED", "PAYMENT.CAPTURE.COMPLETED":
		status = models.StatusSuccessful
	case "PAYMENT.SALE.DENIED", "PAYMENT.CAPTURE.DENIED":
		status = models.StatusFailed
	case "PAYMENT.SALE.PENDING", "PAYMENT.CAPTURE.PENDING":
		status = models.StatusPending
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	externalID := event.Resource.ParentPayment
	if externalID == "" {
		externalID = event.Resource.ID
	}
	r.reconcileByExternalID(c, "paypal", event.ID, externalID, models.UpdatePaymentRequest{Status: status})
}

type coinbaseEvent struct {
	Event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"event"`
}

// HandleCoinbase verifies X-CC-Webhook-Signature (hex HMAC of the raw body)
// and reconciles charge lifecycle events.
func (r *Reconciler) HandleCoinbase(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !verifyHexHMAC(r.cfg.CoinbaseWebhookSecret, body, c.GetHeader("X-CC-Webhook-Signature")) {
		r.reject(c, "coinbase", "bad_signature")
		return
	}

	var event coinbaseEvent
	if err := bindJSON(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if r.dedup.AlreadySeen(c.Request.Context(), "coinbase", event.Event.ID) {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	var status models.PaymentStatus
	switch event.Event.Type {
	case "charge:confirmed", "charge:resolved":
		status = models.StatusSuccessful
	case "charge:failed":
		status = models.StatusFailed
	case "charge:created", "charge:pending", "charge:delayed":
		status = models.StatusPending
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	r.reconcileByExternalID(c, "coinbase", event.Event.ID, event.Event.Data.ID, models.UpdatePaymentRequest{Status: status})
}

func (r *Reconciler) reconcileByExternalID(c *gin.Context, provider, eventID, externalID string, req models.UpdatePaymentRequest) {
	if externalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing transaction id"})
		return
	}

	payment, err := r.ledger.GetPaymentByExternalID(c.Request.Context(), externalID)
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			r.reject(c, provider, "unknown_transaction")
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	r.applyUpdate(c, provider, eventID, payment.ID, req)
}

// applyUpdate records the event as delivered only after the ledger accepts
// the update, so a failed reconciliation leaves the retry path open.
func (r *Reconciler) applyUpdate(c *gin.Context, provider, eventID string, paymentID uuid.UUID, req models.UpdatePaymentRequest) {
	if _, err := r.ledger.UpdatePaymentStatus(c.Request.Context(), paymentID, req); err != nil {
		status := apperr.HTTPStatus(err)
		telemetry.Logger.Error("Webhook reconciliation failed",
			zap.String("provider", provider),
			zap.String("payment_id", paymentID.String()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "reconciliation failed"})
		return
	}
	r.dedup.MarkSeen(c.Request.Context(), provider, eventID)

	telemetry.Logger.Info("Webhook reconciled",
		zap.String("provider", provider),
		zap.String("payment_id", paymentID.String()),
		zap.String("status", string(req.Status)),
	)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Reconciler) reject(c *gin.Context, provider, reason string) {
	telemetry.WebhooksRejected.WithLabelValues(provider, reason).Inc()
	telemetry.Logger.Warn("Webhook rejected",
		zap.String("provider", provider),
		zap.String("reason", reason),
	)
	if reason == "unknown_transaction" {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown transaction"})
		return
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
}

func bindJSON(body []byte, v any) error {
	return json.Unmarshal(body, v)
}

func computeHMAC(secret string, message []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return mac.Sum(nil)
}

func verifyHexHMAC(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := hex.EncodeToString(computeHMAC(secret, body))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func verifyBase64HMAC(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := base64.StdEncoding.EncodeToString(computeHMAC(secret, body))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func verifyStripeSignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}

	var timestamp, v1 string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if timestamp == "" || v1 == "" {
		return false
	}

	signed := append([]byte(timestamp+"."), body...)
	expected := hex.EncodeToString(computeHMAC(secret, signed))
	return hmac.Equal([]byte(expected), []byte(v1))
}

func verifyPayPalSignature(secret, webhookID, transmissionID, transmissionTime string, body []byte, signature string) bool {
	if secret == "" || signature == "" || transmissionID == "" || transmissionTime == "" {
		return false
	}
	crc := crc32.ChecksumIEEE(body)
	message := fmt.Sprintf("%s|%s|%s|%d", transmissionID, transmissionTime, webhookID, crc)
	expected := base64.StdEncoding.EncodeToString(computeHMAC(secret, []byte(message)))
	return hmac.Equal([]byte(expected), []byte(signature))
}

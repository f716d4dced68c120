package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quisin/payments-core/internal/models"
	"github.com/quisin/payments-core/internal/telemetry"
)

const (
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"
	paypalLiveURL    = "https://api-m.paypal.com"
)

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Mode         string // "sandbox" or "live"
	Timeout      time.Duration
}

// PayPalGateway creates a remote payment resource and maps its initial state
// to a provisional status. Approval redirects and capture are completed by
// the payer out-of-band, reconciled later via webhook.
type PayPalGateway struct {
	cfg     PayPalConfig
	client  *http.Client
	baseURL string
}

func NewPayPalGateway(cfg PayPalConfig) *PayPalGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	baseURL := paypalSandboxURL
	if cfg.Mode == "live" {
		baseURL = paypalLiveURL
	}
	return &PayPalGateway{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, baseURL: baseURL}
}

func (g *PayPalGateway) Name() string { return "paypal" }

func (g *PayPalGateway) Methods() []models.PaymentMethod {
	return []models.PaymentMethod{models.MethodDigitalWallet}
}

type paypalPaymentRequest struct {
	Intent       string              `json:"intent"`
	Payer        paypalPayer         `json:"payer"`
	Transactions []paypalTransaction `json:"transactions"`
	RedirectURLs paypalRedirectURLs  `json:"redirect_urls"`
}

type paypalPayer struct {
	PaymentMethod string `json:"payment_method"`
}

type paypalTransaction struct {
	Amount      paypalAmount `json:"amount"`
	Description string       `json:"description"`
}

type paypalAmount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type paypalRedirectURLs struct {
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

type paypalPaymentResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func (g *PayPalGateway) Process(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := validateMethod(req.Method, g.Name(), models.MethodDigitalWallet); err != nil {
		return Result{}, err
	}

	payment := paypalPaymentRequest{
		Intent: "sale",
		Payer:  paypalPayer{PaymentMethod: "paypal"},
		Transactions: []paypalTransaction{{
			Amount:      paypalAmount{Total: req.Amount.StringFixed(2), Currency: "USD"},
			Description: fmt.Sprintf("Restaurant payment - user %s", req.UserID),
		}},
		RedirectURLs: paypalRedirectURLs{
			ReturnURL: "https://quisin.com/payment/success",
			CancelURL: "https://quisin.com/payment/cancel",
		},
	}

	body, _ := json.Marshal(payment)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payments/payment", bytes.NewReader(body))
	if err != nil {
		return g.unreachable(err), nil
	}
	httpReq.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.unreachable(err), nil
	}
	defer resp.Body.Close()

	var created paypalPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return g.unreachable(err), nil
	}
	if created.ID == "" {
		created.ID = generatedTransactionID()
	}

	switch created.State {
	case "approved":
		return Result{TransactionID: created.ID, Status: models.StatusSuccessful}, nil
	case "failed":
		return Result{
			TransactionID: created.ID,
			Status:        models.StatusFailed,
			Failure:       FailureDeclined,
			Detail:        "payment resource in failed state",
		}, nil
	default:
		// "created" and anything unrecognised stay provisional.
		return Result{TransactionID: created.ID, Status: models.StatusPending}, nil
	}
}

func (g *PayPalGateway) unreachable(err error) Result {
	telemetry.Logger.Warn("PayPal payment creation failed", zap.Error(err))
	return Result{
		TransactionID: generatedTransactionID(),
		Status:        models.StatusFailed,
		Failure:       FailureUnreachable,
		Detail:        err.Error(),
	}
}

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

const coinbaseBaseURL = "https://api.commerce.coinbase.com"

type CoinbaseConfig struct {
	APIKey  string
	Timeout time.Duration
}

// CoinbaseGateway creates a crypto charge and reads the latest entry of the
// charge timeline for the provisional status. An empty or unrecognised
// timeline stays PENDING; the webhook settles it.
type CoinbaseGateway struct {
	cfg     CoinbaseConfig
	client  *http.Client
	baseURL string
}

func NewCoinbaseGateway(cfg CoinbaseConfig) *CoinbaseGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CoinbaseGateway{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, baseURL: coinbaseBaseURL}
}

func (g *CoinbaseGateway) Name() string { return "coinbase" }

func (g *CoinbaseGateway) Methods() []models.PaymentMethod {
	return []models.PaymentMethod{models.MethodCrypto}
}

type coinbaseChargeRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	PricingType string             `json:"pricing_type"`
	LocalPrice  coinbaseLocalPrice `json:"local_price"`
}

type coinbaseLocalPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type coinbaseChargeResponse struct {
	Data struct {
		ID       string `json:"id"`
		Timeline []struct {
			Status string `json:"status"`
		} `json:"timeline"`
	} `json:"data"`
}

func (g *CoinbaseGateway) Process(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := validateMethod(req.Method, g.Name(), models.MethodCrypto); err != nil {
		return Result{}, err
	}

	charge := coinbaseChargeRequest{
		Name:        "Restaurant payment",
		Description: fmt.Sprintf("Payment for restaurant order - user %s", req.UserID),
		PricingType: "fixed_price",
		LocalPrice:  coinbaseLocalPrice{Amount: req.Amount.StringFixed(2), Currency: "USD"},
	}

	body, _ := json.Marshal(charge)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return g.unreachable(err), nil
	}
	httpReq.Header.Set("X-CC-Api-Key", g.cfg.APIKey)
	httpReq.Header.Set("X-CC-Version", "2018-03-22")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.unreachable(err), nil
	}
	defer resp.Body.Close()

	var created coinbaseChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return g.unreachable(err), nil
	}

	txID := created.Data.ID
	if txID == "" {
		txID = generatedTransactionID()
	}

	latest := ""
	if n := len(created.Data.Timeline); n > 0 {
		latest = created.Data.Timeline[n-1].Status
	}

	switch latest {
	case "COMPLETED":
		return Result{TransactionID: txID, Status: models.StatusSuccessful}, nil
	case "FAILED", "EXPIRED", "CANCELED":
		return Result{
			TransactionID: txID,
			Status:        models.StatusFailed,
			Failure:       FailureDeclined,
			Detail:        fmt.Sprintf("charge timeline status %q", latest),
		}, nil
	default:
		return Result{TransactionID: txID, Status: models.StatusPending}, nil
	}
}

func (g *CoinbaseGateway) unreachable(err error) Result {
	telemetry.Logger.Warn("Coinbase charge creation failed", zap.Error(err))
	return Result{
		TransactionID: generatedTransactionID(),
		Status:        models.StatusFailed,
		Failure:       FailureUnreachable,
		Detail:        err.Error(),
	}
}

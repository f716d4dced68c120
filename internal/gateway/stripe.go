package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quisin/payments-core/internal/models"
	"github.com/quisin/payments-core/internal/telemetry"
)

const stripeBaseURL = "https://api.stripe.com/v1"

type StripeConfig struct {
	APIKey  string
	Timeout time.Duration
}

// StripeGateway charges cards synchronously. Provider errors never escape:
// a declined charge maps to FAILED/PROVIDER_DECLINED and a transport failure
// to FAILED/PROVIDER_UNREACHABLE, both with a usable transaction id.
type StripeGateway struct {
	cfg     StripeConfig
	client  *http.Client
	baseURL string
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &StripeGateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: stripeBaseURL,
	}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) Methods() []models.PaymentMethod {
	return []models.PaymentMethod{models.MethodCreditCard, models.MethodDebitCard}
}

type stripeCharge struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (g *StripeGateway) Process(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := validateMethod(req.Method, g.Name(), models.MethodCreditCard, models.MethodDebitCard); err != nil {
		return Result{}, err
	}

	cents := req.Amount.Mul(decimal.NewFromInt(100)).IntPart()
	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", cents))
	form.Set("currency", "usd")
	form.Set("description", fmt.Sprintf("Restaurant payment - user %s", req.UserID))
	form.Set("source", "tok_visa")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/charges", strings.NewReader(form.Encode()))
	if err != nil {
		return g.unreachable(err), nil
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.unreachable(err), nil
	}
	defer resp.Body.Close()

	var charge stripeCharge
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return g.unreachable(err), nil
	}
	if charge.ID == "" {
		charge.ID = generatedTransactionID()
	}

	switch charge.Status {
	case "succeeded":
		return Result{TransactionID: charge.ID, Status: models.StatusSuccessful}, nil
	case "pending":
		return Result{TransactionID: charge.ID, Status: models.StatusPending}, nil
	default:
		return Result{
			TransactionID: charge.ID,
			Status:        models.StatusFailed,
			Failure:       FailureDeclined,
			Detail:        fmt.Sprintf("charge status %q", charge.Status),
		}, nil
	}
}

func (g *StripeGateway) unreachable(err error) Result {
	telemetry.Logger.Warn("Stripe charge request failed", zap.Error(err))
	return Result{
		TransactionID: generatedTransactionID(),
		Status:        models.StatusFailed,
		Failure:       FailureUnreachable,
		Detail:        err.Error(),
	}
}

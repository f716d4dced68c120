package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quisin/payments-core/internal/apperr"
	"github.com/quisin/payments-core/internal/models"
	"github.com/quisin/payments-core/internal/telemetry"
)

const (
	mpesaSandboxURL    = "https://sandbox.safaricom.co.ke"
	mpesaProductionURL = "https://api.safaricom.co.ke"

	mpesaTokenKey = "mpesa:access_token"
)

type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	Environment    string // "sandbox" or "production"
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// MpesaGateway runs the two-step STK push flow: obtain a short-lived OAuth
// token (cached in redis until shortly before expiry), then push a payment
// prompt to the payer's phone. The synchronous response only acknowledges
// the push; settlement arrives later via the M-Pesa webhook, so the gateway
// never reports SUCCESSFUL on its own.
type MpesaGateway struct {
	cfg     MpesaConfig
	client  *http.Client
	rdb     *redis.Client
	baseURL string
	now     func() time.Time
}

func NewMpesaGateway(cfg MpesaConfig, rdb *redis.Client) *MpesaGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	baseURL := mpesaSandboxURL
	if cfg.Environment == "production" {
		baseURL = mpesaProductionURL
	}
	return &MpesaGateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		rdb:     rdb,
		baseURL: baseURL,
		now:     time.Now,
	}
}

func (g *MpesaGateway) Name() string { return "mpesa" }

func (g *MpesaGateway) Methods() []models.PaymentMethod {
	return []models.PaymentMethod{models.MethodMobileMoney}
}

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
}

func (g *MpesaGateway) Process(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := validateMethod(req.Method, g.Name(), models.MethodMobileMoney); err != nil {
		return Result{}, err
	}
	if req.PhoneNumber == "" {
		return Result{}, apperr.InvalidErr("mobile money payments require a payer phone number")
	}

	token, err := g.accessToken(ctx)
	if err != nil {
		return g.unreachable(err), nil
	}

	ts := g.now().Format("20060102150405")
	push := stkPushRequest{
		BusinessShortCode: g.cfg.ShortCode,
		Password:          g.stkPassword(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.StringFixed(0),
		PartyA:            req.PhoneNumber,
		PartyB:            g.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       g.cfg.CallbackURL,
		AccountReference:  "Payment - " + req.UserID.String(),
		TransactionDesc:   "Restaurant payment",
	}

	body, _ := json.Marshal(push)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return g.unreachable(err), nil
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.unreachable(err), nil
	}
	defer resp.Body.Close()

	var ack stkPushResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return g.unreachable(err), nil
	}

	txID := ack.CheckoutRequestID
	if txID == "" {
		txID = generatedTransactionID()
	}

	// "0" acknowledges the push only; completion comes through the webhook.
	if ack.ResponseCode == "0" {
		return Result{TransactionID: txID, Status: models.StatusPending}, nil
	}
	return Result{
		TransactionID: txID,
		Status:        models.StatusFailed,
		Failure:       FailureDeclined,
		Detail:        ack.ResponseDescription,
	}, nil
}

func (g *MpesaGateway) accessToken(ctx context.Context) (string, error) {
	if g.rdb != nil {
		if cached, err := g.rdb.Get(ctx, mpesaTokenKey).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}

	creds := base64.StdEncoding.EncodeToString([]byte(g.cfg.ConsumerKey + ":" + g.cfg.ConsumerSecret))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Basic "+creds)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tok mpesaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("mpesa token endpoint returned no access token")
	}

	if g.rdb != nil {
		ttl := 50 * time.Minute
		if secs, err := strconv.Atoi(tok.ExpiresIn); err == nil && secs > 60 {
			ttl = time.Duration(secs-60) * time.Second
		}
		g.rdb.Set(ctx, mpesaTokenKey, tok.AccessToken, ttl)
	}
	return tok.AccessToken, nil
}

func (g *MpesaGateway) stkPassword(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(g.cfg.ShortCode + g.cfg.Passkey + timestamp))
}

func (g *MpesaGateway) unreachable(err error) Result {
	telemetry.Logger.Warn("M-Pesa STK push failed", zap.Error(err))
	return Result{
		TransactionID: generatedTransactionID(),
		Status:        models.StatusFailed,
		Failure:       FailureUnreachable,
		Detail:        err.Error(),
	}
}

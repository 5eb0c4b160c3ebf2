package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fieldserve/internal/config"
	"fieldserve/internal/domain"
	"fieldserve/internal/metrics"
	"fieldserve/internal/models"
)

// Client talks to the payment gateway over HTTP. Requests are signed with
// HMAC-SHA256 over merchant_code + order_id + amount. Every call is bounded
// by the configured timeout; callers treat a timeout as "pending", never as
// failed.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	merchantCode string
	apiKey       string
	secret       string
	callbackURL  string
	logger       *zerolog.Logger
}

func NewClient(cfg config.GatewayConfig, logger *zerolog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      cfg.BaseURL,
		merchantCode: cfg.MerchantCode,
		apiKey:       cfg.APIKey,
		secret:       cfg.Secret,
		callbackURL:  cfg.CallbackURL,
		logger:       logger,
	}
}

type initiateRequest struct {
	MerchantCode string `json:"merchant_code"`
	OrderID      string `json:"order_id"`
	Amount       int64  `json:"amount"`
	Description  string `json:"description"`
	CallbackURL  string `json:"callback_url"`
	Signature    string `json:"signature"`
}

type initiateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Reference   string `json:"reference"`
		CheckoutURL string `json:"checkout_url"`
		Amount      int64  `json:"amount"`
	} `json:"data"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	} `json:"data"`
}

type refundRequest struct {
	MerchantCode string `json:"merchant_code"`
	OrderID      string `json:"order_id"`
	Amount       int64  `json:"amount"`
	Signature    string `json:"signature"`
}

type refundResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		RefundID string `json:"refund_id"`
	} `json:"data"`
}

// InitiatePayment creates a gateway checkout for the order and returns the
// redirect URL the customer pays through.
func (c *Client) InitiatePayment(ctx context.Context, orderID string, amount int64, description string) (*domain.GatewayPayment, error) {
	body := initiateRequest{
		MerchantCode: c.merchantCode,
		OrderID:      orderID,
		Amount:       amount,
		Description:  description,
		CallbackURL:  c.callbackURL,
		Signature:    c.Sign(orderID, amount),
	}

	var resp initiateResponse
	if err := c.post(ctx, "/v1/transactions", body, &resp); err != nil {
		metrics.IncGatewayCall("initiate", "error")
		return nil, err
	}
	if !resp.Success {
		metrics.IncGatewayCall("initiate", "rejected")
		return nil, fmt.Errorf("gateway rejected payment: %s", resp.Message)
	}

	metrics.IncGatewayCall("initiate", "ok")
	return &domain.GatewayPayment{
		OrderID:     orderID,
		GatewayRef:  resp.Data.Reference,
		RedirectURL: resp.Data.CheckoutURL,
		Amount:      resp.Data.Amount,
	}, nil
}

// VerifyStatus asks the gateway for the current state of an order and maps
// it onto the ledger payment status vocabulary.
func (c *Client) VerifyStatus(ctx context.Context, orderID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/transactions/"+orderID, nil)
	if err != nil {
		return "", fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncGatewayCall("verify", "error")
		return "", fmt.Errorf("gateway status call: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		metrics.IncGatewayCall("verify", "error")
		return "", fmt.Errorf("gateway status call: unexpected status %d", httpResp.StatusCode)
	}

	var resp statusResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		metrics.IncGatewayCall("verify", "error")
		return "", fmt.Errorf("decode status response: %w", err)
	}
	if !resp.Success {
		metrics.IncGatewayCall("verify", "rejected")
		return "", fmt.Errorf("gateway status rejected: %s", resp.Message)
	}

	metrics.IncGatewayCall("verify", "ok")
	return MapStatus(resp.Data.Status), nil
}

// Refund asks the gateway to return funds for an order. The returned refund
// id is recorded as the gateway reference; completion arrives via callback.
func (c *Client) Refund(ctx context.Context, orderID string, amount int64) (string, error) {
	body := refundRequest{
		MerchantCode: c.merchantCode,
		OrderID:      orderID,
		Amount:       amount,
		Signature:    c.Sign(orderID, amount),
	}

	var resp refundResponse
	if err := c.post(ctx, "/v1/refunds", body, &resp); err != nil {
		metrics.IncGatewayCall("refund", "error")
		return "", err
	}
	if !resp.Success {
		metrics.IncGatewayCall("refund", "rejected")
		return "", fmt.Errorf("gateway rejected refund: %s", resp.Message)
	}

	metrics.IncGatewayCall("refund", "ok")
	return resp.Data.RefundID, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Warn().Str("path", path).Int("status", resp.StatusCode).
			Str("body", string(raw)).Msg("gateway call failed")
		return fmt.Errorf("gateway call %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

// Sign computes the request signature:
// HMAC-SHA256(merchant_code + order_id + amount, secret).
func (c *Client) Sign(orderID string, amount int64) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	fmt.Fprintf(mac, "%s%s%d", c.merchantCode, orderID, amount)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a callback signature in constant time.
func (c *Client) VerifySignature(orderID string, amount int64, signature string) bool {
	expected := c.Sign(orderID, amount)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// MapStatus translates gateway status strings to ledger payment statuses.
// Unknown statuses stay pending so reconciliation keeps polling them.
func MapStatus(gatewayStatus string) string {
	switch gatewayStatus {
	case "PAID", "SETTLED", "COMPLETED", "successful", "success":
		return models.PaymentCompleted
	case "FAILED", "EXPIRED", "failed":
		return models.PaymentFailed
	case "REFUNDED", "refunded":
		return models.PaymentRefunded
	case "REFUND_FAILED":
		return models.PaymentRefundFailed
	case "HOLD":
		return models.PaymentHold
	default:
		return models.PaymentPending
	}
}

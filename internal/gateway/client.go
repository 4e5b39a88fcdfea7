// Package gateway wraps the hosted-checkout payment API: initialize a
// transaction to obtain a checkout URL, verify its final state, and check
// webhook signatures.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"conventionhub/internal/common/money"
	"conventionhub/internal/common/retry"
)

// Config holds gateway configuration.
type Config struct {
	BaseURL   string        `envconfig:"GATEWAY_BASE_URL" default:"https://api.paystack.co"`
	SecretKey string        `envconfig:"GATEWAY_SECRET_KEY" required:"true"`
	Timeout   time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`
}

// Authorization is the result of initializing a transaction.
type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is the gateway's view of a transaction's final state.
type Verification struct {
	Status      string `json:"status"`
	AmountMinor int64  `json:"amount"`
}

// Succeeded reports whether the charge went through.
func (v *Verification) Succeeded() bool {
	return v.Status == "success"
}

// Client calls the payment gateway over HTTP. Transient failures (network
// errors, 408, 429, 5xx) are retried under a bounded policy; rejections and
// other client errors fail immediately.
type Client struct {
	config     Config
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		policy: retry.DefaultPolicy(),
		logger: logger,
	}
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize creates a checkout session and returns the URL the payer is
// redirected to.
func (c *Client) Initialize(ctx context.Context, amount money.Money, email, reference string) (*Authorization, error) {
	body, _ := json.Marshal(map[string]any{
		"amount":    amount.AmountMinor,
		"currency":  amount.Currency,
		"email":     email,
		"reference": reference,
	})

	var data json.RawMessage
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var postErr error
		data, postErr = c.post(ctx, "/transaction/initialize", body)
		return postErr
	})
	if err != nil {
		return nil, err
	}

	var auth Authorization
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("unmarshal initialize response: %w", err)
	}
	if auth.AuthorizationURL == "" || auth.Reference == "" {
		return nil, fmt.Errorf("gateway returned incomplete authorization")
	}

	c.logger.Info("transaction initialized",
		"reference", auth.Reference,
		"amount", amount.AmountMinor,
	)
	return &auth, nil
}

// Verify fetches the settled state of a transaction.
func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	var data json.RawMessage
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var getErr error
		data, getErr = c.get(ctx, "/transaction/verify/"+reference)
		return getErr
	})
	if err != nil {
		return nil, err
	}

	var v Verification
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal verify response: %w", err)
	}
	return &v, nil
}

// VerifySignature checks the webhook HMAC-SHA512 signature over the raw body.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(c.config.SecretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) post(ctx context.Context, path string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	req.Header.Set("Authorization", "Bearer "+c.config.SecretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("gateway error: status=%d body=%s", resp.StatusCode, string(respBody))
		if !retryableStatus(resp.StatusCode) {
			return nil, retry.Terminal(err)
		}
		return nil, err
	}

	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("unmarshal gateway response: %w", err)
	}
	if !env.Status {
		return nil, retry.Terminal(fmt.Errorf("gateway rejected request: %s", env.Message))
	}
	return env.Data, nil
}

// retryableStatus reports whether another attempt can change the outcome.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

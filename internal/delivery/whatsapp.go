// Package delivery sends confirmation messages and receipt documents over
// WhatsApp. Delivery is best effort; a confirmed booking is never reverted
// because its receipt could not be sent.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"conventionhub/internal/common/retry"
)

// Config holds WhatsApp API configuration.
type Config struct {
	BaseURL     string        `envconfig:"WHATSAPP_BASE_URL" default:"https://graph.facebook.com/v18.0"`
	AccessToken string        `envconfig:"WHATSAPP_ACCESS_TOKEN" required:"true"`
	PhoneID     string        `envconfig:"WHATSAPP_PHONE_ID" required:"true"`
	Timeout     time.Duration `envconfig:"WHATSAPP_TIMEOUT" default:"20s"`
}

// APIError is a non-2xx response from the messaging API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error: status=%d body=%s", e.StatusCode, e.Body)
}

// classify wraps an API error so the retry policy skips attempts that can
// never succeed. Timeouts, throttling and server errors stay retryable.
func classify(err *APIError) error {
	switch {
	case err.StatusCode == http.StatusRequestTimeout,
		err.StatusCode == http.StatusTooManyRequests,
		err.StatusCode >= 500:
		return err
	default:
		return retry.Terminal(err)
	}
}

// Client sends messages through the WhatsApp business API.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a messaging client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// SendText sends a plain text message. The pipeline uses it as the
// reachability probe before uploading the document.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	body, _ := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/messages", c.config.BaseURL, c.config.PhoneID),
		bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// SendDocument uploads a document and sends it to the recipient.
func (c *Client) SendDocument(ctx context.Context, phone, filename string, document []byte, caption string) error {
	mediaID, err := c.uploadMedia(ctx, filename, document)
	if err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              "document",
		"document": map[string]string{
			"id":       mediaID,
			"filename": filename,
			"caption":  caption,
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/messages", c.config.BaseURL, c.config.PhoneID),
		bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) uploadMedia(ctx context.Context, filename string, document []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("messaging_product", "whatsapp")
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(document); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/media", c.config.BaseURL, c.config.PhoneID), &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", classify(&APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil || out.ID == "" {
		return "", fmt.Errorf("unmarshal media upload response: %w", err)
	}
	return out.ID, nil
}

func (c *Client) do(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classify(&APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}
	return nil
}

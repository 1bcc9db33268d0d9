package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-success response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack: %d %s", e.StatusCode, e.Message)
}

var ErrMissingReference = errors.New("paystack: reference is required")

// Client talks to the transaction API with the secret key.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient returns a client with the given request timeout.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// InitializeRequest starts a hosted checkout.
type InitializeRequest struct {
	Email       string    `json:"email"`
	Amount      int64     `json:"amount"` // minor units
	Currency    string    `json:"currency,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	CallbackURL string    `json:"callback_url,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

// InitializeResult holds the hosted checkout URL.
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Initialize creates a transaction and returns its authorization URL.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal initialize request: %w", err)
	}
	var out envelope[InitializeResult]
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Verify fetches the authoritative state of a transaction.
func (c *Client) Verify(ctx context.Context, reference string) (*Charge, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, ErrMissingReference
	}
	var out envelope[Charge]
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{ ok() (bool, string) }) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paystack %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if ok, msg := out.ok(); resp.StatusCode >= 300 || !ok {
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return nil
}

func (e *envelope[T]) ok() (bool, string) { return e.Status, e.Message }

/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package gateway talks to the payment provider: hosted checkout pages,
// payment verification, bank transfers and webhook signatures.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"entitlement-engine-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// ErrRejected is returned when the provider answers with status false.
var ErrRejected = errors.New("payment gateway rejected the request")

type Client struct {
	baseURL    string
	secretKey  string
	currency   string
	httpClient *http.Client
}

// Checkout is a hosted payment page the customer is redirected to.
type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is the provider's view of one payment.
type Verification struct {
	Reference string            `json:"reference"`
	Status    string            `json:"status"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	PaidAt    time.Time         `json:"paid_at"`
	Metadata  map[string]string `json:"metadata"`
}

func (v *Verification) Paid() bool {
	return v.Status == "success"
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func NewClient(cfg models.GatewayConfig, currency string) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base url cannot be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient, err := createCustomHttpClient(timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		currency:   currency,
		httpClient: httpClient,
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: timeout,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   2 * timeout,
	}, nil
}

// Initialize opens a hosted checkout for amount (minor units).
func (c *Client) Initialize(ctx context.Context, email string, amount int64, reference string, metadata map[string]string) (*Checkout, error) {
	body := map[string]interface{}{
		"email":     email,
		"amount":    amount,
		"currency":  c.currency,
		"reference": reference,
		"metadata":  metadata,
	}

	var checkout Checkout
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &checkout); err != nil {
		return nil, fmt.Errorf("unable to initialize checkout %s: %w", reference, err)
	}
	if checkout.Reference == "" {
		checkout.Reference = reference
	}

	zap.L().Info("Checkout initialized",
		zap.String("reference", checkout.Reference),
		zap.Int64("amount", amount))
	return &checkout, nil
}

// Verify fetches the authoritative status of a payment.
func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	var v Verification
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &v); err != nil {
		return nil, fmt.Errorf("unable to verify payment %s: %w", reference, err)
	}
	return &v, nil
}

// InitiateTransfer creates a transfer recipient for bank and sends amount to
// it. reference is echoed back in the transfer webhooks.
func (c *Client) InitiateTransfer(ctx context.Context, bank models.BankDetails, amount int64, reference string) (string, error) {
	var recipient struct {
		RecipientCode string `json:"recipient_code"`
	}
	err := c.do(ctx, http.MethodPost, "/transferrecipient", map[string]interface{}{
		"type":           "nuban",
		"name":           bank.AccountName,
		"account_number": bank.AccountNumber,
		"bank_code":      bank.BankCode,
		"currency":       c.currency,
	}, &recipient)
	if err != nil {
		return "", fmt.Errorf("unable to create transfer recipient: %w", err)
	}

	var transfer struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	}
	err = c.do(ctx, http.MethodPost, "/transfer", map[string]interface{}{
		"source":    "balance",
		"amount":    amount,
		"recipient": recipient.RecipientCode,
		"reference": reference,
		"reason":    "Referral commission payout",
	}, &transfer)
	if err != nil {
		return "", fmt.Errorf("unable to initiate transfer %s: %w", reference, err)
	}

	zap.L().Info("Transfer queued",
		zap.String("reference", reference),
		zap.String("transfer_code", transfer.TransferCode),
		zap.String("status", transfer.Status))
	return transfer.TransferCode, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unable to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("unable to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("unable to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unexpected response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !env.Status {
		zap.L().Warn("Gateway request rejected",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", env.Message))
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("unable to decode response data: %w", err)
		}
	}
	return nil
}

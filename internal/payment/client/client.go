// Package client is the HTTP adapter for the external payment processor.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	paymentdomain "github.com/asterhq/tally/internal/payment/domain"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) CreateInvoice(ctx context.Context, req paymentdomain.CreateInvoiceRequest) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/invoices", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", paymentdomain.ErrInvalidPayload
	}
	return resp.ID, nil
}

func (c *Client) GetInvoiceStatus(ctx context.Context, externalInvoiceID string) (paymentdomain.InvoiceStatus, error) {
	var status paymentdomain.InvoiceStatus
	err := c.do(ctx, http.MethodGet, "/v1/invoices/"+externalInvoiceID, nil, &status)
	return status, err
}

func (c *Client) SendInvoiceNotification(ctx context.Context, externalInvoiceID string) error {
	return c.do(ctx, http.MethodPost, "/v1/invoices/"+externalInvoiceID+"/notify", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("processor %s %s: status %d: %s", method, path, resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

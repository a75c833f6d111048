package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Processor is the external payment-processor boundary. Any non-success
// status is treated as a failed charge; the orchestrator never retries on its
// own.
type Processor interface {
	CreateCharge(ctx context.Context, customerRef string, amountCents int64, currency, idempotencyKey string, metadata map[string]string) (*ChargeResult, error)
	ListCharges(ctx context.Context, customerRef string) ([]ChargeResult, error)
}

type ChargeResult struct {
	ExternalChargeID string `json:"id"`
	Status           string `json:"status"`
}

const ChargeStatusSucceeded = "succeeded"

// HTTPProcessor talks to the processor's REST API.
type HTTPProcessor struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPProcessor(baseURL, apiKey string) *HTTPProcessor {
	return &HTTPProcessor{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type createChargeRequest struct {
	Customer string            `json:"customer"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (p *HTTPProcessor) CreateCharge(ctx context.Context, customerRef string, amountCents int64, currency, idempotencyKey string, metadata map[string]string) (*ChargeResult, error) {
	body, err := json.Marshal(createChargeRequest{
		Customer: customerRef,
		Amount:   amountCents,
		Currency: currency,
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/charges", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("processor returned status %d", resp.StatusCode)
	}

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *HTTPProcessor) ListCharges(ctx context.Context, customerRef string) ([]ChargeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/v1/charges?customer="+customerRef, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("processor returned status %d", resp.StatusCode)
	}

	var result struct {
		Data []ChargeResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CardIssuer provisions the virtual card a group uses to pay the upstream
// subscription. Called once per group, after its first successful round.
type CardIssuer interface {
	IssueCard(ctx context.Context, groupID, cardholderRef string) (*IssuedCard, error)
}

type IssuedCard struct {
	CardID string `json:"card_id"`
	Last4  string `json:"last4"`
	Expiry string `json:"expiry"`
}

type HTTPCardIssuer struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPCardIssuer(baseURL, apiKey string) *HTTPCardIssuer {
	return &HTTPCardIssuer{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (ci *HTTPCardIssuer) IssueCard(ctx context.Context, groupID, cardholderRef string) (*IssuedCard, error) {
	body, err := json.Marshal(map[string]string{
		"group_id":   groupID,
		"cardholder": cardholderRef,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ci.BaseURL+"/v1/cards", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ci.APIKey)

	resp, err := ci.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("card issuer returned status %d", resp.StatusCode)
	}

	var card IssuedCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, err
	}
	return &card, nil
}

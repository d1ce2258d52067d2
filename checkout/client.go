// Package checkout talks to the hosted payment provider. A session is opened
// before any seat is reserved; the provider calls back on success and the
// booking commits then.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrUnavailable = errors.New("checkout: payment provider unavailable")

// SessionParams describes the payment to collect. Amount is in platform
// credits; the provider converts at a fixed rate.
type SessionParams struct {
	Amount      int    `json:"amount"`
	RideID      string `json:"ride_id"`
	PassengerID string `json:"passenger_id"`
	SuccessURL  string `json:"success_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
}

// Session is the provider's handle: ID keys the later confirmation callback,
// URL is where the passenger completes payment.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Client struct {
	baseURL    string
	apiKey     string
	successURL string
	cancelURL  string
	http       *http.Client
}

func New(baseURL, apiKey, successURL, cancelURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateSession opens a hosted checkout session for the fare.
func (c *Client) CreateSession(ctx context.Context, p SessionParams) (Session, error) {
	if p.SuccessURL == "" {
		p.SuccessURL = c.successURL
	}
	if p.CancelURL == "" {
		p.CancelURL = c.cancelURL
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Session{}, fmt.Errorf("checkout: marshal params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("checkout: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Session{}, fmt.Errorf("checkout: create session: status %d: %s", resp.StatusCode, snippet)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Session{}, fmt.Errorf("checkout: decode session: %w", err)
	}
	if s.ID == "" || s.URL == "" {
		return Session{}, errors.New("checkout: provider returned incomplete session")
	}
	return s, nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Mailer posts transactional emails to the external mail API.
type Mailer struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
}

func NewMailer(baseURL, apiKey, from string) *Mailer {
	return &Mailer{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *Mailer) Send(ctx context.Context, to, subject, text string) error {
	body, err := json.Marshal(map[string]string{
		"from":    m.from,
		"to":      to,
		"subject": subject,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: mail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: mailer status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

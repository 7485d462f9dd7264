package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Email is an outbound message in the Resend wire shape.
type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// EmailSender delivers a single email, best-effort.
type EmailSender interface {
	SendEmail(ctx context.Context, email Email) error
}

// EmailClient speaks the Resend-style POST /emails API.
type EmailClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewEmailClient(baseURL, apiKey string) *EmailClient {
	return &EmailClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *EmailClient) SendEmail(ctx context.Context, email Email) error {
	body, err := json.Marshal(email)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("email API returned %d", resp.StatusCode)
	}
	return nil
}

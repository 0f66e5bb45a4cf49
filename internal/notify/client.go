// Package notify предоставляет клиент шлюза уведомлений партнёров.
//
// Отправка письма о переданном лиде — побочный канал: вызывается после
// коммита транзакции, и её сбой никогда не откатывает передачу.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client инкапсулирует HTTP-взаимодействие со шлюзом уведомлений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ReferralNotification описывает письмо партнёру о переданном лиде.
type ReferralNotification struct {
	PartnerID        int64  `json:"partner_id"`
	PartnerEmail     string `json:"partner_email"`
	CompanyName      string `json:"company_name"`
	DiagnosisNumber  string `json:"diagnosis_number"`
	CustomerName     string `json:"customer_name"`
	ReferralFee      int64  `json:"referral_fee"`
	RemainingBalance int64  `json:"remaining_balance"`
}

// NewClient создаёт HTTP-клиент для обращения к шлюзу уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// SendReferralCreated отправляет партнёру уведомление о переданном лиде.
func (c *Client) SendReferralCreated(ctx context.Context, n ReferralNotification) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	url := base + "/api/notifications/referral"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

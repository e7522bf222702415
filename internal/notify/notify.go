// Package notify delivers short text messages to phone numbers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("sms channel not configured")

type Sender interface {
	Send(ctx context.Context, phone, body string) error
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	BaseURL     string
	CountryCode string
	Timeout     time.Duration
}

type TwilioSender struct {
	cfg    TwilioConfig
	client *http.Client
	log    *zap.Logger
}

func NewTwilioSender(cfg TwilioConfig, log *zap.Logger) *TwilioSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TwilioSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

func (s *TwilioSender) Send(ctx context.Context, phone, body string) error {
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" || s.cfg.FromNumber == "" {
		return ErrNotConfigured
	}
	start := time.Now()

	form := url.Values{}
	form.Set("To", s.cfg.CountryCode+phone)
	form.Set("From", s.cfg.FromNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(s.cfg.BaseURL, "/"), url.PathEscape(s.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms http error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms api error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	s.log.Info("sms sent",
		zap.String("to", maskPhone(phone)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// LogSender is the channel used when no SMS gateway is configured. It never
// delivers anything and always reports ErrNotConfigured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, phone, _ string) error {
	s.log.Warn("sms channel not configured, message dropped", zap.String("to", maskPhone(phone)))
	return ErrNotConfigured
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

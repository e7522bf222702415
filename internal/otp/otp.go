// Package otp issues and checks the one-time codes that prove control of a
// phone number during student signup.
package otp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dhyanmanav/GAT-CMS-2/internal/apperr"
	"github.com/dhyanmanav/GAT-CMS-2/internal/auth"
	"github.com/dhyanmanav/GAT-CMS-2/internal/crypto"
	"github.com/dhyanmanav/GAT-CMS-2/internal/kv"
	"github.com/dhyanmanav/GAT-CMS-2/internal/metrics"
	"github.com/dhyanmanav/GAT-CMS-2/internal/notify"
)

const (
	keyPrefix   = "otp:"
	codeDigits  = 6
	phoneDigits = 10
)

type Config struct {
	TTL          time.Duration
	AssertionTTL time.Duration
	Secret       string
	Issuer       string
}

type record struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (r record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

type Issued struct {
	Code      string
	ExpiresAt time.Time
	Delivered bool
}

// Verification carries the signed assertion a signup call must present for
// the verified phone.
type Verification struct {
	Token     string
	ExpiresAt time.Time
}

type Verifier struct {
	store   kv.Store
	sender  notify.Sender
	log     *zap.Logger
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

func New(store kv.Store, sender notify.Sender, log *zap.Logger, m *metrics.Metrics, cfg Config) *Verifier {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.AssertionTTL <= 0 {
		cfg.AssertionTTL = 15 * time.Minute
	}
	return &Verifier{
		store:   store,
		sender:  sender,
		log:     log,
		metrics: m,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RequestCode stores a fresh code for phone, replacing any unconsumed one, and
// tries to deliver it. A delivery failure is logged and reported through
// Issued.Delivered only.
func (v *Verifier) RequestCode(ctx context.Context, phone string) (Issued, error) {
	phone = strings.TrimSpace(phone)
	if !ValidPhone(phone) {
		return Issued{}, apperr.Validationf("invalid_phone", "Invalid phone number. Must be %d digits.", phoneDigits)
	}

	code, err := crypto.NumericCode(codeDigits)
	if err != nil {
		return Issued{}, fmt.Errorf("generate otp: %w", err)
	}
	expiresAt := v.now().Add(v.cfg.TTL)
	if err := kv.SetJSON(ctx, v.store, keyPrefix+phone, record{Code: code, ExpiresAt: expiresAt}); err != nil {
		return Issued{}, fmt.Errorf("store otp: %w", err)
	}

	delivered := true
	if err := v.sender.Send(ctx, phone, Message(code, v.cfg.TTL)); err != nil {
		delivered = false
		if errors.Is(err, notify.ErrNotConfigured) {
			v.log.Warn("otp not delivered, sms channel not configured", zap.String("phone", phone))
		} else {
			v.log.Error("otp delivery failed", zap.String("phone", phone), zap.Error(err))
		}
	}
	v.metrics.OTPIssued(delivered)
	v.log.Info("otp issued", zap.String("phone", phone), zap.Bool("delivered", delivered))

	return Issued{Code: code, ExpiresAt: expiresAt, Delivered: delivered}, nil
}

// VerifyCode consumes the stored code for phone when code matches it. A wrong
// code leaves the record in place; an expired record is removed and reported
// as missing. Only the caller whose delete removes the record succeeds, so
// concurrent checks of one code verify it once.
func (v *Verifier) VerifyCode(ctx context.Context, phone, code string) (Verification, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" {
		return Verification{}, apperr.New(apperr.Validation, "missing_fields", "Phone and OTP are required")
	}

	key := keyPrefix + phone
	raw, err := v.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			v.metrics.OTPVerification("not_found")
			return Verification{}, notFound()
		}
		return Verification{}, fmt.Errorf("load otp: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Verification{}, fmt.Errorf("decode otp: %w", err)
	}

	if rec.expired(v.now()) {
		// A code issued after this read is left alone.
		if _, err := v.store.DeleteIfEqual(ctx, key, raw); err != nil {
			v.log.Warn("delete expired otp failed", zap.String("phone", phone), zap.Error(err))
		}
		v.metrics.OTPVerification("expired")
		return Verification{}, notFound()
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		v.metrics.OTPVerification("mismatch")
		return Verification{}, apperr.New(apperr.Validation, "otp_mismatch", "Invalid OTP")
	}

	consumed, err := v.store.DeleteIfEqual(ctx, key, raw)
	if err != nil {
		return Verification{}, fmt.Errorf("consume otp: %w", err)
	}
	if !consumed {
		// Already used, or replaced by a newer code.
		v.metrics.OTPVerification("not_found")
		return Verification{}, notFound()
	}

	token, expiresAt, err := auth.NewPhoneAssertion(v.cfg.Secret, v.cfg.Issuer, v.cfg.AssertionTTL, phone)
	if err != nil {
		return Verification{}, fmt.Errorf("sign phone assertion: %w", err)
	}
	v.metrics.OTPVerification("success")
	v.log.Info("otp verified", zap.String("phone", phone))
	return Verification{Token: token, ExpiresAt: expiresAt}, nil
}

// CheckAssertion accepts token only if it was issued by VerifyCode for phone
// and has not expired.
func (v *Verifier) CheckAssertion(token, phone string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.Forbidden("phone_not_verified", "Please verify your phone number first")
	}
	if _, err := auth.CheckPhoneAssertion(v.cfg.Secret, v.cfg.Issuer, token, strings.TrimSpace(phone)); err != nil {
		return apperr.Wrap(apperr.Authorization, "phone_not_verified", "Phone verification is invalid or has expired", err)
	}
	return nil
}

// Sweep removes every code that expired before now and returns how many were
// removed.
func (v *Verifier) Sweep(ctx context.Context, now time.Time) (int, error) {
	entries, err := v.store.GetByPrefix(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan otps: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		var rec record
		if err := kv.DecodeJSON(entry, &rec); err != nil {
			v.log.Warn("skip unreadable otp record", zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		if !rec.expired(now) {
			continue
		}
		ok, err := v.store.DeleteIfEqual(ctx, entry.Key, entry.Value)
		if err != nil {
			return removed, fmt.Errorf("delete otp %s: %w", entry.Key, err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func ValidPhone(phone string) bool {
	if len(phone) != phoneDigits {
		return false
	}
	for i := 0; i < len(phone); i++ {
		if phone[i] < '0' || phone[i] > '9' {
			return false
		}
	}
	return true
}

func Message(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your GAT verification code is: %s. Valid for %d minutes.", code, int(ttl.Minutes()))
}

func notFound() error {
	return apperr.Missing("otp_not_found", "OTP not found or expired")
}

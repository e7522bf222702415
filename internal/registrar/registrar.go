// Package registrar creates student and admin accounts and keeps a profile
// copy of each one in the key-value store.
package registrar

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
	"github.com/dhyanmanav/GAT-CMS-2/internal/identity"
	"github.com/dhyanmanav/GAT-CMS-2/internal/kv"
	"github.com/dhyanmanav/GAT-CMS-2/internal/metrics"
	"github.com/dhyanmanav/GAT-CMS-2/internal/otp"
)

const minPasswordLength = 6

// PhoneVerifier validates the assertion handed out after a successful OTP
// check.
type PhoneVerifier interface {
	CheckAssertion(token, phone string) error
}

type StudentSignup struct {
	FullName          string `json:"fullName"`
	USN               string `json:"usn"`
	FatherName        string `json:"fatherName"`
	Semester          string `json:"semester"`
	Year              string `json:"year"`
	Department        string `json:"department"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Password          string `json:"password"`
	ConfirmPassword   string `json:"confirmPassword"`
	VerificationToken string `json:"verificationToken"`
}

type AdminSignup struct {
	FullName        string `json:"fullName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	SecretCode      string `json:"secretCode"`
}

type StudentProfile struct {
	ID         string    `json:"id"`
	FullName   string    `json:"fullName"`
	USN        string    `json:"usn"`
	FatherName string    `json:"fatherName"`
	Semester   string    `json:"semester"`
	Year       string    `json:"year"`
	Department string    `json:"department"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Role       auth.Role `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AdminProfile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type Registrar struct {
	provider    identity.Provider
	store       kv.Store
	phones      PhoneVerifier
	adminSecret string
	log         *zap.Logger
	metrics     *metrics.Metrics
}

func New(provider identity.Provider, store kv.Store, phones PhoneVerifier, adminSecret string, log *zap.Logger, m *metrics.Metrics) *Registrar {
	return &Registrar{
		provider:    provider,
		store:       store,
		phones:      phones,
		adminSecret: adminSecret,
		log:         log,
		metrics:     m,
	}
}

func (r *Registrar) RegisterStudent(ctx context.Context, in StudentSignup) (string, error) {
	in.Phone = strings.TrimSpace(in.Phone)
	if err := checkPassword(in.Password, in.ConfirmPassword); err != nil {
		return "", r.fail(auth.RoleStudent, err)
	}
	if missing := firstMissing([]field{
		{"fullName", in.FullName},
		{"usn", in.USN},
		{"fatherName", in.FatherName},
		{"semester", in.Semester},
		{"year", in.Year},
		{"department", in.Department},
		{"email", in.Email},
		{"phone", in.Phone},
	}); missing != "" {
		return "", r.fail(auth.RoleStudent, apperr.Validationf("missing_fields", "%s is required", missing))
	}
	if !otp.ValidPhone(in.Phone) {
		return "", r.fail(auth.RoleStudent, apperr.New(apperr.Validation, "invalid_phone", "Invalid phone number. Must be 10 digits."))
	}
	if err := r.phones.CheckAssertion(in.VerificationToken, in.Phone); err != nil {
		return "", r.fail(auth.RoleStudent, err)
	}

	user, err := r.provider.CreateUser(ctx, identity.NewUser{
		Email:    in.Email,
		Password: in.Password,
		Role:     auth.RoleStudent,
		Metadata: map[string]string{
			"fullName":   in.FullName,
			"usn":        in.USN,
			"fatherName": in.FatherName,
			"semester":   in.Semester,
			"year":       in.Year,
			"department": in.Department,
			"phone":      in.Phone,
			"role":       string(auth.RoleStudent),
		},
	})
	if err != nil {
		return "", r.fail(auth.RoleStudent, providerFailure(err))
	}

	profile := StudentProfile{
		ID:         user.ID,
		FullName:   in.FullName,
		USN:        in.USN,
		FatherName: in.FatherName,
		Semester:   in.Semester,
		Year:       in.Year,
		Department: in.Department,
		Email:      user.Email,
		Phone:      in.Phone,
		Role:       auth.RoleStudent,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.persist(ctx, user, profile); err != nil {
		return "", r.fail(auth.RoleStudent, err)
	}

	r.metrics.Registration(string(auth.RoleStudent), "success")
	r.log.Info("student registered", zap.String("user_id", user.ID), zap.String("usn", in.USN))
	return user.ID, nil
}

func (r *Registrar) RegisterAdmin(ctx context.Context, in AdminSignup) (string, error) {
	if r.adminSecret == "" || subtle.ConstantTimeCompare([]byte(in.SecretCode), []byte(r.adminSecret)) != 1 {
		if r.adminSecret == "" {
			r.log.Warn("admin signup attempted but no admin secret is configured")
		}
		return "", r.fail(auth.RoleAdmin, apperr.Forbidden("invalid_admin_secret", "Invalid admin secret code"))
	}
	in.Phone = strings.TrimSpace(in.Phone)
	if err := checkPassword(in.Password, in.ConfirmPassword); err != nil {
		return "", r.fail(auth.RoleAdmin, err)
	}
	if missing := firstMissing([]field{
		{"fullName", in.FullName},
		{"email", in.Email},
	}); missing != "" {
		return "", r.fail(auth.RoleAdmin, apperr.Validationf("missing_fields", "%s is required", missing))
	}

	user, err := r.provider.CreateUser(ctx, identity.NewUser{
		Email:    in.Email,
		Password: in.Password,
		Role:     auth.RoleAdmin,
		Metadata: map[string]string{
			"fullName": in.FullName,
			"phone":    in.Phone,
			"role":     string(auth.RoleAdmin),
		},
	})
	if err != nil {
		return "", r.fail(auth.RoleAdmin, providerFailure(err))
	}

	profile := AdminProfile{
		ID:        user.ID,
		FullName:  in.FullName,
		Email:     user.Email,
		Phone:     in.Phone,
		Role:      auth.RoleAdmin,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.persist(ctx, user, profile); err != nil {
		return "", r.fail(auth.RoleAdmin, err)
	}

	r.metrics.Registration(string(auth.RoleAdmin), "success")
	r.log.Info("admin registered", zap.String("user_id", user.ID))
	return user.ID, nil
}

// Profile returns the stored profile document for user, or the identity
// metadata when no profile was ever written.
func (r *Registrar) Profile(ctx context.Context, user identity.User) (json.RawMessage, error) {
	data, err := r.store.Get(ctx, ProfileKey(user.Role, user.ID))
	if err == nil {
		return json.RawMessage(data), nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	fallback, err := json.Marshal(user.Metadata)
	if err != nil {
		return nil, err
	}
	return fallback, nil
}

func ProfileKey(role auth.Role, userID string) string {
	return string(role) + ":" + userID
}

func (r *Registrar) persist(ctx context.Context, user identity.User, profile any) error {
	if err := kv.SetJSON(ctx, r.store, ProfileKey(user.Role, user.ID), profile); err != nil {
		r.log.Error("profile write failed, identity left without profile",
			zap.String("user_id", user.ID),
			zap.String("role", string(user.Role)),
			zap.Error(err),
		)
		if apperr.Is(err, apperr.Timeout) {
			return err
		}
		return apperr.Wrap(apperr.Storage, "profile_write_failed", "Account created but profile could not be saved", err)
	}
	return nil
}

func (r *Registrar) fail(role auth.Role, err error) error {
	r.metrics.Registration(string(role), string(apperr.KindOf(err)))
	return err
}

func checkPassword(password, confirm string) error {
	if len(password) < minPasswordLength {
		return apperr.Validationf("weak_password", "Password must be at least %d characters", minPasswordLength)
	}
	if confirm != "" && confirm != password {
		return apperr.New(apperr.Validation, "password_mismatch", "Passwords do not match")
	}
	return nil
}

type field struct {
	name  string
	value string
}

func firstMissing(fields []field) string {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return f.name
		}
	}
	return ""
}

func providerFailure(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Wrap(apperr.AuthProvider, "auth_provider_error", err.Error(), err)
}

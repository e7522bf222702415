package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhyanmanav/GAT-CMS-2/internal/apperr"
	"github.com/dhyanmanav/GAT-CMS-2/internal/auth"
	"github.com/dhyanmanav/GAT-CMS-2/internal/crypto"
	"github.com/dhyanmanav/GAT-CMS-2/internal/kv"
)

const (
	userKeyPrefix  = "auth_user:"
	emailKeyPrefix = "auth_email:"

	minPasswordLength = 6
)

type account struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"passwordHash"`
	Role         auth.Role         `json:"role"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

func (a account) user() User {
	return User{ID: a.ID, Email: a.Email, Role: a.Role, Metadata: a.Metadata}
}

// Local keeps accounts in the portal's own key-value store and issues HS256
// access tokens.
type Local struct {
	store  kv.Store
	secret string
	issuer string
	ttl    time.Duration
}

func NewLocal(store kv.Store, secret, issuer string, ttl time.Duration) *Local {
	return &Local{store: store, secret: secret, issuer: issuer, ttl: ttl}
}

func (p *Local) CreateUser(ctx context.Context, in NewUser) (User, error) {
	email := normalizeEmail(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return User{}, providerError("Unable to validate email address: invalid format", nil)
	}
	if len(in.Password) < minPasswordLength {
		return User{}, providerError("Password should be at least 6 characters", nil)
	}
	if !in.Role.Valid() {
		return User{}, providerError("Unknown role", nil)
	}

	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return User{}, providerError("Unable to hash password", err)
	}

	acct := account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         in.Role,
		Metadata:     in.Metadata,
		CreatedAt:    time.Now().UTC(),
	}

	claimed, err := kv.SetJSONIfAbsent(ctx, p.store, emailKeyPrefix+email, acct.ID)
	if err != nil {
		return User{}, providerError("Unable to create user", err)
	}
	if !claimed {
		return User{}, providerError("A user with this email address has already been registered", nil)
	}
	if err := kv.SetJSON(ctx, p.store, userKeyPrefix+acct.ID, acct); err != nil {
		_ = p.store.Delete(ctx, emailKeyPrefix+email)
		return User{}, providerError("Unable to create user", err)
	}
	return acct.user(), nil
}

func (p *Local) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, apperr.Unauthenticated("missing_credentials", "Email and password are required")
	}

	var userID string
	if err := kv.GetJSON(ctx, p.store, emailKeyPrefix+email, &userID); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Session{}, invalidCredentials()
		}
		return Session{}, providerError("Unable to sign in", err)
	}
	acct, err := p.load(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if err := crypto.CheckPassword(acct.PasswordHash, password); err != nil {
		return Session{}, invalidCredentials()
	}

	token, expiresAt, err := auth.NewAccessToken(p.secret, p.issuer, p.ttl, auth.Claims{
		UserID: acct.ID,
		Role:   acct.Role,
		Email:  acct.Email,
	})
	if err != nil {
		return Session{}, providerError("Unable to issue token", err)
	}
	return Session{AccessToken: token, ExpiresAt: expiresAt, User: acct.user()}, nil
}

func (p *Local) Verify(ctx context.Context, bearer string) (User, error) {
	if bearer == "" {
		return User{}, apperr.Unauthenticated("missing_token", "Unauthorized")
	}
	claims, err := auth.ParseToken(p.secret, p.issuer, bearer)
	if err != nil {
		return User{}, apperr.Wrap(apperr.Authentication, "invalid_token", "Unauthorized", err)
	}
	acct, err := p.load(ctx, claims.UserID)
	if err != nil {
		if apperr.Is(err, apperr.Authentication) {
			return User{}, apperr.Unauthenticated("invalid_token", "Unauthorized")
		}
		return User{}, err
	}
	if acct.Role != claims.Role {
		return User{}, apperr.Unauthenticated("invalid_token", "Unauthorized")
	}
	return acct.user(), nil
}

func (p *Local) load(ctx context.Context, userID string) (account, error) {
	var acct account
	if err := kv.GetJSON(ctx, p.store, userKeyPrefix+userID, &acct); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return account{}, invalidCredentials()
		}
		return account{}, providerError("Unable to load user", err)
	}
	return acct, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func invalidCredentials() error {
	return apperr.Unauthenticated("invalid_credentials", "Invalid login credentials")
}

// providerError keeps timeouts distinct and reports everything else as a
// provider failure carrying message.
func providerError(message string, err error) error {
	if err != nil && apperr.Is(err, apperr.Timeout) {
		return err
	}
	return apperr.Wrap(apperr.AuthProvider, "auth_provider_error", message, err)
}

// Package identity is the portal's view of the identity provider: create a
// user with a role, sign in with email and password, and resolve a bearer
// token back to the user.
package identity

import (
	"context"
	"time"

	"github.com/dhyanmanav/GAT-CMS-2/internal/auth"
)

type User struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Role     auth.Role         `json:"role"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (u User) Principal() auth.Principal {
	return auth.Principal{UserID: u.ID, Role: u.Role}
}

type NewUser struct {
	Email    string
	Password string
	Role     auth.Role
	Metadata map[string]string
}

type Session struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        User      `json:"user"`
}

type Provider interface {
	CreateUser(ctx context.Context, in NewUser) (User, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	Verify(ctx context.Context, bearer string) (User, error)
}

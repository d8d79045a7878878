/**
 * @description
 * Core domain models for the wallet service: accounts, identities and the
 * roles that drive authorization and notification fan-out.
 *
 * @notes
 * - Accounts are owned by the auth collaborator; this service only reads them.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role classifies a connected principal.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps a stored role string onto a Role. Anything unknown is a plain user.
func ParseRole(raw string) Role {
	switch Role(raw) {
	case RoleAdmin:
		return RoleAdmin
	case RoleGuest:
		return RoleGuest
	default:
		return RoleUser
	}
}

// Account is a registered principal that may own a wallet.
type Account struct {
	ID            uuid.UUID  `json:"id"`
	Username      string     `json:"username"`
	Role          Role       `json:"role"`
	WalletAccount string     `json:"wallet_account"`
	CreatedAt     time.Time  `json:"created_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Identity is the resolved principal behind a connection or request. A zero
// AccountID means the principal is anonymous.
type Identity struct {
	AccountID uuid.UUID
	Username  string
	Role      Role
}

// Anonymous returns the guest identity.
func Anonymous() Identity {
	return Identity{Username: "Anonymous", Role: RoleGuest}
}

// Authenticated builds an identity for a known account.
func Authenticated(acc Account) Identity {
	role := acc.Role
	if role == "" || role == RoleGuest {
		role = RoleUser
	}
	return Identity{AccountID: acc.ID, Username: acc.Username, Role: role}
}

// IsAuthenticated reports whether the identity is backed by an account.
func (i Identity) IsAuthenticated() bool {
	return i.AccountID != uuid.Nil && i.Role != RoleGuest
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.IsAuthenticated() && i.Role == RoleAdmin
}

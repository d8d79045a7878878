/**
 * @description
 * Connection authentication. A handshake is resolved to an identity from an
 * explicit bearer token first and the session cookie second. Resolution never
 * fails: any problem degrades the connection to the anonymous identity.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Bearer token validation.
 * - github.com/redis/go-redis/v9: Session lookups (see redis_store.go).
 * - go.uber.org/zap: Structured logging.
 */

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/store"
	"go.uber.org/zap"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNoCredentials        = errors.New("no credentials presented")
	ErrSessionNotFound      = errors.New("session not found")
)

// Handshake carries the credentials presented by a connecting client.
type Handshake struct {
	Token         string
	SessionCookie string
}

// HandshakeFromRequest extracts credentials from an HTTP or websocket upgrade
// request. The token may come from the Authorization header or the `token`
// query parameter.
func HandshakeFromRequest(r *http.Request, cookieName string) Handshake {
	var hs Handshake
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		if token := strings.TrimPrefix(auth, "Bearer "); token != auth {
			hs.Token = strings.TrimSpace(token)
		}
	}
	if hs.Token == "" {
		hs.Token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			hs.SessionCookie = c.Value
		}
	}
	return hs
}

// SessionStore maps a session id to the account that owns it.
type SessionStore interface {
	Lookup(ctx context.Context, sessionID string) (uuid.UUID, error)
}

// Options configures an Authenticator.
type Options struct {
	JWTSecret     string
	SessionSecret string
	Timeout       time.Duration
}

// Authenticator resolves handshakes to identities.
type Authenticator struct {
	tokens        *TokenVerifier
	sessions      SessionStore
	accounts      store.AccountDirectory
	sessionSecret string
	timeout       time.Duration
	logger        *zap.Logger
}

// NewAuthenticator creates an authenticator. sessions may be nil, in which
// case cookies are ignored.
func NewAuthenticator(accounts store.AccountDirectory, sessions SessionStore, opts Options, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	var tokens *TokenVerifier
	if strings.TrimSpace(opts.JWTSecret) != "" {
		tokens = NewTokenVerifier(opts.JWTSecret)
	}
	return &Authenticator{
		tokens:        tokens,
		sessions:      sessions,
		accounts:      accounts,
		sessionSecret: opts.SessionSecret,
		timeout:       opts.Timeout,
		logger:        logger.With(zap.String("component", "authenticator")),
	}
}

// Resolve returns the identity behind hs, or the anonymous identity when
// authentication is absent or fails.
func (a *Authenticator) Resolve(ctx context.Context, hs Handshake) domain.Identity {
	identity, err := a.Authenticate(ctx, hs)
	if err != nil {
		if !errors.Is(err, ErrNoCredentials) {
			a.logger.Info("authentication failed; continuing as anonymous", zap.Error(err))
		}
		return domain.Anonymous()
	}
	return identity
}

// Authenticate is the strict form of Resolve. Failures wrap ErrAuthenticationFailed
// unless no credentials were presented at all.
func (a *Authenticator) Authenticate(ctx context.Context, hs Handshake) (domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if hs.Token == "" && hs.SessionCookie == "" {
		return domain.Identity{}, ErrNoCredentials
	}

	var tokenErr error
	if hs.Token != "" {
		identity, err := a.fromToken(ctx, hs.Token)
		if err == nil {
			return identity, nil
		}
		tokenErr = err
	}
	if hs.SessionCookie != "" {
		identity, err := a.fromCookie(ctx, hs.SessionCookie)
		if err == nil {
			return identity, nil
		}
		return domain.Identity{}, fmt.Errorf("%w: session: %v", ErrAuthenticationFailed, err)
	}
	return domain.Identity{}, fmt.Errorf("%w: token: %v", ErrAuthenticationFailed, tokenErr)
}

func (a *Authenticator) fromToken(ctx context.Context, raw string) (domain.Identity, error) {
	if a.tokens == nil {
		return domain.Identity{}, errors.New("token authentication is not configured")
	}
	claims, err := a.tokens.Verify(raw)
	if err != nil {
		return domain.Identity{}, err
	}
	return a.lookup(ctx, claims.AccountID)
}

func (a *Authenticator) fromCookie(ctx context.Context, raw string) (domain.Identity, error) {
	if a.sessions == nil {
		return domain.Identity{}, errors.New("session authentication is not configured")
	}
	value, err := url.QueryUnescape(raw)
	if err != nil {
		value = raw
	}
	sid, err := UnsignCookie(value, a.sessionSecret)
	if err != nil {
		return domain.Identity{}, err
	}
	accountID, err := a.sessions.Lookup(ctx, sid)
	if err != nil {
		return domain.Identity{}, err
	}
	return a.lookup(ctx, accountID)
}

// lookup loads the account so the role and username come from storage
// rather than from client-controlled input.
func (a *Authenticator) lookup(ctx context.Context, accountID uuid.UUID) (domain.Identity, error) {
	acc, err := a.accounts.FindAccountByID(ctx, accountID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return domain.Authenticated(*acc), nil
}

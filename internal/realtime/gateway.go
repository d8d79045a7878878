/**
 * @description
 * Websocket gateway. Upgrades GET /ws, resolves the caller's identity, registers
 * the connection and pumps frames until the peer disconnects.
 *
 * @dependencies
 * - gorilla/websocket: transport
 * - x/time/rate: per-connection inbound limiter
 */

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/session"
)

// DefaultEventsPerSecond bounds inbound frames per connection.
const DefaultEventsPerSecond = 10

// IdentityResolver turns a handshake into an identity. It never fails.
type IdentityResolver interface {
	Resolve(ctx context.Context, hs session.Handshake) domain.Identity
}

// InboundHandler consumes decoded inbound frames.
type InboundHandler interface {
	HandleInbound(ctx context.Context, sess *Session, event string, data json.RawMessage)
}

// GatewayOptions tunes the websocket endpoint.
type GatewayOptions struct {
	CookieName      string
	AllowedOrigins  []string
	EventsPerSecond int
}

// Gateway is the http.Handler behind /ws.
type Gateway struct {
	resolver   IdentityResolver
	registry   *Registry
	dispatcher *Dispatcher
	inbound    InboundHandler
	opts       GatewayOptions
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewGateway wires the websocket endpoint.
func NewGateway(resolver IdentityResolver, registry *Registry, dispatcher *Dispatcher, inbound InboundHandler, opts GatewayOptions, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.EventsPerSecond <= 0 {
		opts.EventsPerSecond = DefaultEventsPerSecond
	}
	g := &Gateway{
		resolver:   resolver,
		registry:   registry,
		dispatcher: dispatcher,
		inbound:    inbound,
		opts:       opts,
		logger:     logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range g.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP runs one connection for its whole lifetime.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs := session.HandshakeFromRequest(r, g.opts.CookieName)

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(NewConnID(), ws, g.logger)
	go client.writePump()

	client.setState(StateAuthenticating)
	identity := g.resolver.Resolve(r.Context(), hs)
	if identity.IsAuthenticated() {
		client.setState(StateAuthenticated)
	} else {
		client.setState(StateAnonymous)
	}

	sess, err := g.registry.Register(client.id, identity, client)
	if err != nil {
		code := CodeInternal
		if errors.Is(err, ErrTooManyConnections) {
			code = CodeCapacity
		}
		g.logger.Info("connection rejected",
			zap.String("account_id", identity.AccountID.String()),
			zap.Error(err),
		)
		if frame, encErr := EncodeFrame(domain.EventError, domain.ErrorPayload{Message: err.Error(), Code: code}); encErr == nil {
			_ = client.Send(frame)
		}
		client.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	g.onConnect(sess)
	limiter := rate.NewLimiter(rate.Limit(g.opts.EventsPerSecond), g.opts.EventsPerSecond*2)
	client.readPump(func(message []byte) {
		if !limiter.Allow() {
			_ = sess.Emit(domain.EventError, domain.ErrorPayload{Message: "Too many events", Code: CodeRateLimited})
			return
		}
		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Event == "" {
			_ = sess.Emit(domain.EventError, domain.ErrorPayload{Message: "Invalid frame", Code: CodeBadRequest})
			return
		}
		g.inbound.HandleInbound(ctx, sess, frame.Event, frame.Data)
	})

	g.registry.Unregister(sess.ID)
	client.Close()
	g.onDisconnect(sess)
}

func (g *Gateway) onConnect(sess *Session) {
	identity := sess.Identity
	_ = sess.Emit(domain.EventConnected, domain.NewConnectedPayload(string(sess.ID), identity))

	g.logger.Info("client connected",
		zap.String("conn_id", string(sess.ID)),
		zap.String("username", identity.Username),
		zap.String("role", string(identity.Role)),
	)

	// Only the first connection of an account announces it online.
	if !identity.IsAuthenticated() || g.registry.CountFor(identity.AccountID) > 1 {
		return
	}
	if identity.IsAdmin() {
		g.dispatcher.BroadcastExcept(sess.ID, domain.EventAdminStatus, domain.StatusPayload{
			Username: identity.Username,
			Status:   domain.StatusOnline,
		})
		return
	}
	g.dispatcher.NotifyRole(domain.RoleAdmin, domain.EventUserStatus, domain.StatusPayload{
		UserID:   identity.AccountID.String(),
		Username: identity.Username,
		Status:   domain.StatusOnline,
	})
}

func (g *Gateway) onDisconnect(sess *Session) {
	identity := sess.Identity
	g.logger.Info("client disconnected",
		zap.String("conn_id", string(sess.ID)),
		zap.String("username", identity.Username),
	)

	if !identity.IsAuthenticated() || g.registry.IsOnline(identity.AccountID) {
		return
	}
	if identity.IsAdmin() {
		g.dispatcher.Broadcast(domain.EventAdminStatus, domain.StatusPayload{
			Username: identity.Username,
			Status:   domain.StatusOffline,
		})
		return
	}
	g.dispatcher.NotifyRole(domain.RoleAdmin, domain.EventUserStatus, domain.StatusPayload{
		UserID:   identity.AccountID.String(),
		Username: identity.Username,
		Status:   domain.StatusOffline,
	})
}

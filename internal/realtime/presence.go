/**
 * @description
 * Process-local presence registry. Tracks every live connection together with
 * the identity it authenticated as, indexed by connection, account and role.
 *
 * @notes
 * - The registry is not shared across replicas. Fan-out across instances would
 *   need a broker-backed bus in front of the dispatcher.
 */

package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/metrics"
)

// DefaultMaxConnectionsPerAccount caps concurrent connections per authenticated account.
const DefaultMaxConnectionsPerAccount = 5

var (
	ErrTooManyConnections  = errors.New("too many connections for account")
	ErrDuplicateConnection = errors.New("connection already registered")
)

// ConnID identifies a single realtime connection.
type ConnID string

// NewConnID returns a fresh random connection id.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Emitter delivers encoded frames to one connection. Send must not block.
type Emitter interface {
	Send(frame []byte) error
	Close()
}

// Session is a registered connection.
type Session struct {
	ID       ConnID
	Identity domain.Identity
	JoinedAt time.Time

	emitter Emitter
}

// Send writes a pre-encoded frame to the connection.
func (s *Session) Send(frame []byte) error {
	return s.emitter.Send(frame)
}

// Emit encodes and writes a single event to the connection.
func (s *Session) Emit(event string, payload any) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	return s.emitter.Send(frame)
}

// Close tears down the underlying connection.
func (s *Session) Close() {
	s.emitter.Close()
}

type connSet map[ConnID]struct{}

// Registry indexes live sessions by connection id, account and role.
type Registry struct {
	mu            sync.RWMutex
	conns         map[ConnID]*Session
	byAccount     map[uuid.UUID]connSet
	byRole        map[domain.Role]connSet
	maxPerAccount int
	metrics       *metrics.Registry
}

// NewRegistry builds an empty registry. A non-positive cap falls back to the default.
func NewRegistry(maxPerAccount int, m *metrics.Registry) *Registry {
	if maxPerAccount <= 0 {
		maxPerAccount = DefaultMaxConnectionsPerAccount
	}
	return &Registry{
		conns:         make(map[ConnID]*Session),
		byAccount:     make(map[uuid.UUID]connSet),
		byRole:        make(map[domain.Role]connSet),
		maxPerAccount: maxPerAccount,
		metrics:       m,
	}
}

// Register adds a connection. Authenticated accounts are capped; anonymous
// connections are not.
func (r *Registry) Register(id ConnID, identity domain.Identity, emitter Emitter) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return nil, ErrDuplicateConnection
	}
	if identity.IsAuthenticated() && len(r.byAccount[identity.AccountID]) >= r.maxPerAccount {
		return nil, ErrTooManyConnections
	}

	sess := &Session{ID: id, Identity: identity, JoinedAt: time.Now().UTC(), emitter: emitter}
	r.conns[id] = sess
	if identity.IsAuthenticated() {
		addTo(r.byAccount, identity.AccountID, id)
	}
	addTo(r.byRole, identity.Role, id)
	r.metrics.ConnectionOpened(string(identity.Role))
	return sess, nil
}

// Unregister removes a connection and reports whether it was present.
func (r *Registry) Unregister(id ConnID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	if sess.Identity.IsAuthenticated() {
		removeFrom(r.byAccount, sess.Identity.AccountID, id)
	}
	removeFrom(r.byRole, sess.Identity.Role, id)
	r.metrics.ConnectionClosed(string(sess.Identity.Role))
	return sess, true
}

// Get returns the session for a connection id.
func (r *Registry) Get(id ConnID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.conns[id]
	return sess, ok
}

// ConnectionsFor returns a snapshot of the account's sessions.
func (r *Registry) ConnectionsFor(accountID uuid.UUID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byAccount[accountID])
}

// CountFor returns how many connections the account holds.
func (r *Registry) CountFor(accountID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAccount[accountID])
}

// ConnectionsWithRole returns a snapshot of sessions carrying the role.
func (r *Registry) ConnectionsWithRole(role domain.Role) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byRole[role])
}

// All returns a snapshot of every session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.conns))
	for _, sess := range r.conns {
		out = append(out, sess)
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IsOnline reports whether the account holds at least one connection.
func (r *Registry) IsOnline(accountID uuid.UUID) bool {
	return r.CountFor(accountID) > 0
}

func (r *Registry) collect(ids connSet) []*Session {
	out := make([]*Session, 0, len(ids))
	for id := range ids {
		if sess, ok := r.conns[id]; ok {
			out = append(out, sess)
		}
	}
	return out
}

func addTo[K comparable](index map[K]connSet, key K, id ConnID) {
	set, ok := index[key]
	if !ok {
		set = make(connSet)
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom[K comparable](index map[K]connSet, key K, id ConnID) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

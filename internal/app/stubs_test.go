package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/ledger"
	"github.com/votefest/wallet-service/internal/store"
	"github.com/votefest/wallet-service/internal/store/memstore"
)

type sentEvent struct {
	account uuid.UUID
	role    domain.Role
	event   string
	payload any
}

type recordingNotifier struct {
	mu        sync.Mutex
	sent      []sentEvent
	throttled []func() (any, error)
}

func (n *recordingNotifier) NotifyAccount(accountID uuid.UUID, event string, payload any) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{account: accountID, event: event, payload: payload})
	return 1
}

func (n *recordingNotifier) NotifyRole(role domain.Role, event string, payload any) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{role: role, event: event, payload: payload})
	return 1
}

func (n *recordingNotifier) Broadcast(event string, payload any) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{event: event, payload: payload})
	return 1
}

func (n *recordingNotifier) BroadcastThrottled(event string, compute func() (any, error), _ time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.throttled = append(n.throttled, compute)
}

func (n *recordingNotifier) events(event string) []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentEvent
	for _, e := range n.sent {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (n *recordingNotifier) forAccount(accountID uuid.UUID, event string) []sentEvent {
	var out []sentEvent
	for _, e := range n.events(event) {
		if e.account == accountID {
			out = append(out, e)
		}
	}
	return out
}

type stubTicketRepo struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]*domain.Ticket
	scans   []store.CheckInParams
	err     error
}

func newStubTicketRepo() *stubTicketRepo {
	return &stubTicketRepo{tickets: make(map[uuid.UUID]*domain.Ticket)}
}

func (r *stubTicketRepo) CreateTicket(_ context.Context, ticket *domain.Ticket) (*domain.Ticket, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, false, r.err
	}
	for _, existing := range r.tickets {
		if existing.PaymentReference == ticket.PaymentReference {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *ticket
	r.tickets[ticket.ID] = &cp
	out := cp
	return &out, true, nil
}

func (r *stubTicketRepo) find(key string) *domain.Ticket {
	for _, t := range r.tickets {
		if t.ID.String() == key || t.PaymentReference == key {
			return t
		}
	}
	return nil
}

func (r *stubTicketRepo) FindTicket(_ context.Context, key string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.find(key)
	if t == nil {
		return nil, store.ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *stubTicketRepo) CheckInTicket(_ context.Context, params store.CheckInParams, check func(*domain.Ticket) error) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.find(params.TicketKey)
	if t == nil {
		return nil, store.ErrTicketNotFound
	}
	if err := check(t); err != nil {
		return nil, err
	}
	at := params.ScannedAt
	scanner := params.ScannerID
	action := params.Action
	t.IsUsed = true
	t.UsedAt = &at
	t.ScannedBy = &scanner
	t.ScanAction = &action
	r.scans = append(r.scans, params)
	cp := *t
	return &cp, nil
}

type walletFixture struct {
	store    *memstore.Store
	engine   *ledger.Engine
	notifier *recordingNotifier
	tickets  *stubTicketRepo
	wallets  *WalletService
}

func newWalletFixture(t *testing.T) *walletFixture {
	t.Helper()
	st := memstore.New(2 * time.Second)
	engine := ledger.NewEngine(st, ledger.Options{VoteUnitPrice: decimal.NewFromInt(10)}, nil, nil)
	notifier := &recordingNotifier{}
	repo := newStubTicketRepo()
	tickets := NewTicketService(repo, TicketOptions{Prices: defaultTicketPrices()}, nil)
	svc := NewWalletService(engine, st, tickets, notifier, WalletOptions{
		MinTransfer:          decimal.NewFromInt(10),
		MinFunding:           decimal.NewFromInt(100),
		CoinsPerCurrencyUnit: decimal.NewFromInt(10),
	}, nil)
	return &walletFixture{store: st, engine: engine, notifier: notifier, tickets: repo, wallets: svc}
}

func defaultTicketPrices() map[domain.TicketType]decimal.Decimal {
	return map[domain.TicketType]decimal.Decimal{
		domain.TicketRegular: decimal.NewFromInt(2000),
		domain.TicketVIP:     decimal.NewFromInt(10000),
		domain.TicketVVIP:    decimal.NewFromInt(50000),
	}
}

func (f *walletFixture) account(handle string) domain.Account {
	return f.store.AddAccount(domain.Account{Username: handle, WalletAccount: handle})
}

func (f *walletFixture) fund(t *testing.T, accountID uuid.UUID, coins int64) {
	t.Helper()
	_, err := f.engine.Credit(context.Background(), accountID, decimal.NewFromInt(coins), domain.KindDeposit, nil)
	require.NoError(t, err)
}

func (f *walletFixture) balance(t *testing.T, accountID uuid.UUID) decimal.Decimal {
	t.Helper()
	b, err := f.engine.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

// Package memstore is an in-process implementation of the ledger store. Row
// locks are per-account semaphores with a bounded wait, and every write made
// inside a unit of work is staged until commit, so a failed unit leaves no trace.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/store"
)

// Op names a storage primitive that a FaultFunc can fail.
type Op string

const (
	OpLockWallet        Op = "lock_wallet"
	OpSaveWallet        Op = "save_wallet"
	OpInsertTransaction Op = "insert_transaction"
	OpInsertVote        Op = "insert_vote"
	OpEnqueueEvent      Op = "enqueue_event"
	OpCommit            Op = "commit"
)

// DefaultEventRetention is how many committed outbox events the store keeps.
// Nothing relays them in memory mode, so older events are dropped.
const DefaultEventRetention = 1024

// FaultFunc is consulted before each primitive; a non-nil error aborts it.
type FaultFunc func(op Op, accountID uuid.UUID) error

// Store keeps accounts, wallets, ledger rows, votes and messages in memory.
type Store struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]domain.Account
	handles      map[string]uuid.UUID
	wallets      map[uuid.UUID]domain.Wallet
	transactions []domain.Transaction
	externalRefs map[string]int
	contestants  map[uuid.UUID]domain.Contestant
	votes        []domain.VoteRecord
	events       []domain.OutboxEvent
	eventLimit   int
	messages     map[uuid.UUID]domain.Message
	fault        FaultFunc

	locksMu     sync.Mutex
	locks       map[uuid.UUID]chan struct{}
	lockTimeout time.Duration
}

// New creates an empty store. Lock waits longer than lockTimeout fail with
// store.ErrLockTimeout.
func New(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Store{
		accounts:     make(map[uuid.UUID]domain.Account),
		handles:      make(map[string]uuid.UUID),
		wallets:      make(map[uuid.UUID]domain.Wallet),
		externalRefs: make(map[string]int),
		contestants:  make(map[uuid.UUID]domain.Contestant),
		messages:     make(map[uuid.UUID]domain.Message),
		locks:        make(map[uuid.UUID]chan struct{}),
		lockTimeout:  lockTimeout,
		eventLimit:   DefaultEventRetention,
	}
}

// AddAccount registers an account. A zero ID is replaced with a new one.
func (s *Store) AddAccount(acc domain.Account) domain.Account {
	if acc.ID == uuid.Nil {
		acc.ID = uuid.New()
	}
	if acc.Role == "" {
		acc.Role = domain.RoleUser
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID] = acc
	if handle := strings.TrimSpace(acc.WalletAccount); handle != "" {
		s.handles[handle] = acc.ID
	}
	return acc
}

// AddContestant registers a contestant. A zero ID is replaced with a new one.
func (s *Store) AddContestant(c domain.Contestant) domain.Contestant {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contestants[c.ID] = c
	return c
}

// SetFault installs (or with nil, removes) a fault injection hook.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Transactions returns every committed ledger row for accountID, oldest first.
func (s *Store) Transactions(accountID uuid.UUID) []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, txn := range s.transactions {
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	return out
}

// Votes returns every committed vote record.
func (s *Store) Votes() []domain.VoteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.VoteRecord(nil), s.votes...)
}

// Events returns the most recent committed outbox events, oldest first.
func (s *Store) Events() []domain.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.OutboxEvent(nil), s.events...)
}

// Messages returns every stored chat message.
func (s *Store) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) checkFault(op Op, accountID uuid.UUID) error {
	s.mu.RLock()
	fn := s.fault
	s.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(op, accountID)
}

func (s *Store) lockFor(accountID uuid.UUID) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[accountID] = ch
	}
	return ch
}

func (s *Store) acquire(ctx context.Context, accountID uuid.UUID) error {
	ch := s.lockFor(accountID)
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return store.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release(accountID uuid.UUID) {
	<-s.lockFor(accountID)
}

// RunInTx runs fn with staged writes and applies them only when fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn store.TxFunc) error {
	tx := &memTx{
		s:       s,
		held:    make(map[uuid.UUID]struct{}),
		wallets: make(map[uuid.UUID]*domain.Wallet),
	}
	defer tx.releaseAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := s.checkFault(OpCommit, uuid.Nil); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, txn := range tx.txns {
		if txn.ExternalReference == nil {
			continue
		}
		if _, exists := s.externalRefs[*txn.ExternalReference]; exists {
			return store.ErrDuplicateReference
		}
	}
	for id, w := range tx.wallets {
		s.wallets[id] = *w
	}
	for _, txn := range tx.txns {
		s.transactions = append(s.transactions, txn)
		if txn.ExternalReference != nil {
			s.externalRefs[*txn.ExternalReference] = len(s.transactions) - 1
		}
	}
	s.votes = append(s.votes, tx.votes...)
	s.events = append(s.events, tx.events...)
	if over := len(s.events) - s.eventLimit; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
	return nil
}

func (s *Store) GetWallet(_ context.Context, accountID uuid.UUID) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[accountID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	return &w, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transaction, 0, limit)
	skipped := 0
	for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		txn := s.transactions[i]
		if txn.AccountID != accountID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

func (s *Store) IncrementContestantVotes(_ context.Context, contestantID uuid.UUID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contestants[contestantID]
	if !ok {
		return 0, store.ErrContestantNotFound
	}
	c.Votes += delta
	s.contestants[contestantID] = c
	return c.Votes, nil
}

func (s *Store) Leaderboard(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	all := make([]domain.Contestant, 0, len(s.contestants))
	for _, c := range s.contestants {
		all = append(all, c)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Votes != all[j].Votes {
			return all[i].Votes > all[j].Votes
		}
		return all[i].Name < all[j].Name
	})

	entries := make([]domain.LeaderboardEntry, 0, limit)
	var rank int64
	for i, c := range all {
		if i >= limit {
			break
		}
		if i == 0 || c.Votes != all[i-1].Votes {
			rank = int64(i + 1)
		}
		entries = append(entries, domain.LeaderboardEntry{ID: c.ID, Name: c.Name, Votes: c.Votes, Rank: rank})
	}
	return entries, nil
}

func (s *Store) FindAccountByID(_ context.Context, accountID uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok || acc.DeletedAt != nil {
		return nil, store.ErrAccountNotFound
	}
	return &acc, nil
}

func (s *Store) CreateMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[msg.AccountID]; !ok {
		return store.ErrAccountNotFound
	}
	s.messages[msg.ID] = *msg
	return nil
}

func (s *Store) MarkMessageRead(_ context.Context, messageID uuid.UUID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, store.ErrMessageNotFound
	}
	if !msg.IsRead {
		now := time.Now().UTC()
		msg.IsRead = true
		msg.ReadAt = &now
		s.messages[messageID] = msg
	}
	return &msg, nil
}

func (s *Store) FindLedgerDrift(_ context.Context, limit int) ([]store.LedgerDrift, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := make(map[uuid.UUID]decimal.Decimal, len(s.wallets))
	for _, txn := range s.transactions {
		totals[txn.AccountID] = totals[txn.AccountID].Add(txn.SignedAmount())
	}
	var out []store.LedgerDrift
	for id, w := range s.wallets {
		if len(out) >= limit {
			break
		}
		if !w.Balance.Equal(totals[id]) {
			out = append(out, store.LedgerDrift{AccountID: id, Balance: w.Balance, LedgerTotal: totals[id]})
		}
	}
	return out, nil
}

func (s *Store) FindTallyDrift(_ context.Context, limit int) ([]store.TallyDrift, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recorded := make(map[uuid.UUID]int64, len(s.contestants))
	for _, v := range s.votes {
		recorded[v.ContestantID] += v.VoteCount
	}
	var out []store.TallyDrift
	for id, c := range s.contestants {
		if len(out) >= limit {
			break
		}
		if c.Votes != recorded[id] {
			out = append(out, store.TallyDrift{ContestantID: id, Tally: c.Votes, Recorded: recorded[id]})
		}
	}
	return out, nil
}

func (s *Store) RepairTally(_ context.Context, contestantID uuid.UUID, observedTally, recorded int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contestants[contestantID]
	if !ok || c.Votes != observedTally {
		return false, nil
	}
	c.Votes = recorded
	s.contestants[contestantID] = c
	return true, nil
}

var (
	_ store.LedgerStore              = (*Store)(nil)
	_ store.AccountDirectory         = (*Store)(nil)
	_ store.MessageRepository        = (*Store)(nil)
	_ store.ReconciliationRepository = (*Store)(nil)
)

package memstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/store"
)

type memTx struct {
	s       *Store
	held    map[uuid.UUID]struct{}
	wallets map[uuid.UUID]*domain.Wallet
	txns    []domain.Transaction
	votes   []domain.VoteRecord
	events  []domain.OutboxEvent
}

func (t *memTx) releaseAll() {
	for id := range t.held {
		t.s.release(id)
	}
	t.held = nil
}

func (t *memTx) LockWallet(ctx context.Context, accountID uuid.UUID, create bool) (*domain.Wallet, error) {
	if err := t.s.checkFault(OpLockWallet, accountID); err != nil {
		return nil, err
	}
	if _, ok := t.held[accountID]; !ok {
		if err := t.s.acquire(ctx, accountID); err != nil {
			return nil, err
		}
		t.held[accountID] = struct{}{}
	}

	if staged, ok := t.wallets[accountID]; ok {
		cp := *staged
		return &cp, nil
	}

	t.s.mu.RLock()
	w, exists := t.s.wallets[accountID]
	_, accountExists := t.s.accounts[accountID]
	t.s.mu.RUnlock()

	if !exists {
		if !create {
			return nil, store.ErrWalletNotFound
		}
		if !accountExists {
			return nil, store.ErrAccountNotFound
		}
		w = domain.NewWallet(accountID)
		staged := w
		t.wallets[accountID] = &staged
	}
	return &w, nil
}

func (t *memTx) SaveWallet(_ context.Context, wallet *domain.Wallet) error {
	if err := t.s.checkFault(OpSaveWallet, wallet.AccountID); err != nil {
		return err
	}
	if _, ok := t.held[wallet.AccountID]; !ok {
		return store.ErrWalletNotFound
	}
	cp := *wallet
	cp.UpdatedAt = time.Now().UTC()
	t.wallets[wallet.AccountID] = &cp
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn *domain.Transaction) error {
	if err := t.s.checkFault(OpInsertTransaction, txn.AccountID); err != nil {
		return err
	}
	if txn.ExternalReference != nil {
		ref := *txn.ExternalReference
		for _, staged := range t.txns {
			if staged.ExternalReference != nil && *staged.ExternalReference == ref {
				return store.ErrDuplicateReference
			}
		}
		t.s.mu.RLock()
		_, exists := t.s.externalRefs[ref]
		t.s.mu.RUnlock()
		if exists {
			return store.ErrDuplicateReference
		}
	}
	cp := *txn
	if cp.Status == "" {
		cp.Status = domain.TransactionStatusCompleted
	}
	t.txns = append(t.txns, cp)
	return nil
}

func (t *memTx) FindTransactionByExternalReference(_ context.Context, reference string) (*domain.Transaction, error) {
	reference = strings.TrimSpace(reference)
	for _, staged := range t.txns {
		if staged.ExternalReference != nil && *staged.ExternalReference == reference {
			cp := staged
			return &cp, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	idx, ok := t.s.externalRefs[reference]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	cp := t.s.transactions[idx]
	return &cp, nil
}

func (t *memTx) ResolveWalletHandle(_ context.Context, handle string) (uuid.UUID, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.handles[strings.TrimSpace(handle)]
	if !ok {
		return uuid.Nil, store.ErrAccountNotFound
	}
	if acc := t.s.accounts[id]; acc.DeletedAt != nil {
		return uuid.Nil, store.ErrAccountNotFound
	}
	return id, nil
}

func (t *memTx) FindContestant(_ context.Context, contestantID uuid.UUID) (*domain.Contestant, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	c, ok := t.s.contestants[contestantID]
	if !ok {
		return nil, store.ErrContestantNotFound
	}
	return &c, nil
}

func (t *memTx) InsertVote(_ context.Context, vote *domain.VoteRecord) error {
	if err := t.s.checkFault(OpInsertVote, vote.AccountID); err != nil {
		return err
	}
	t.votes = append(t.votes, *vote)
	return nil
}

func (t *memTx) EnqueueEvent(_ context.Context, event domain.OutboxEvent) error {
	if err := t.s.checkFault(OpEnqueueEvent, uuid.Nil); err != nil {
		return err
	}
	t.events = append(t.events, event)
	return nil
}

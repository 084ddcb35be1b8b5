package account

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
// A single mutex guards all maps so that posting is atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User    // by user ID
	byEmail  map[string]string   // email -> user ID
	accounts map[string]*Account // by account ID
	byUser   map[string]string   // user ID -> account ID
	byNumber map[string]string   // bankCode:number -> account ID
	postings map[string]*PostingResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		byEmail:  make(map[string]string),
		accounts: make(map[string]*Account),
		byUser:   make(map[string]string),
		byNumber: make(map[string]string),
		postings: make(map[string]*PostingResult),
	}
}

func numberKey(bankCode, number string) string {
	return bankCode + ":" + number
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemoryStore) SetUserStatus(ctx context.Context, id string, status UserStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CreateAccount(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
	m.byUser[a.UserID] = a.ID
	m.byNumber[numberKey(a.BankCode, a.Number)] = a.ID
	return nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetAccountByUser(ctx context.Context, userID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUser[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *m.accounts[id]
	return &cp, nil
}

func (m *MemoryStore) GetAccountByNumber(ctx context.Context, bankCode, number string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byNumber[numberKey(bankCode, number)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *m.accounts[id]
	return &cp, nil
}

func (m *MemoryStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Active = active
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// PostTransfer debits and credits inside one locked section so the sum
// of balances is conserved and partial postings cannot be observed.
func (m *MemoryStore) PostTransfer(ctx context.Context, transferID, senderAccountID, receiverAccountID string, amount float64) (*PostingResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.postings[transferID]; done {
		return nil, ErrAlreadyPosted
	}

	sender, ok := m.accounts[senderAccountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	receiver, ok := m.accounts[receiverAccountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if !sender.Active || !receiver.Active {
		return nil, ErrAccountInactive
	}
	if sender.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	sender.Balance -= amount
	receiver.Balance += amount
	sender.UpdatedAt = now
	receiver.UpdatedAt = now

	result := &PostingResult{
		TransferID:      transferID,
		SenderBalance:   sender.Balance,
		ReceiverBalance: receiver.Balance,
		PostedAt:        now,
	}
	m.postings[transferID] = result

	cp := *result
	return &cp, nil
}

package storagemock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"newsletter-service/api/services/domain"
	"newsletter-service/api/services/storage"
)

// Memory is an in-memory Storage that enforces the same uniqueness rules as
// the Postgres schema: one subscriber per email and one token per subscriber.
// Transactions hold the store lock for their whole duration and only publish
// their writes on commit.
type Memory struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]*storage.Subscriber
	order       []uuid.UUID
	tokens      map[string]uuid.UUID // token -> subscriber id
}

var _ storage.Storage = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		subscribers: make(map[uuid.UUID]*storage.Subscriber),
		tokens:      make(map[string]uuid.UUID),
	}
}

func (m *Memory) SubscriberIDByEmail(_ context.Context, email domain.SubscriberEmail) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.idByEmail(email.String()); ok {
		return id, nil
	}
	return uuid.Nil, storage.ErrNotFound
}

func (m *Memory) TokenBySubscriberID(_ context.Context, id uuid.UUID) (domain.SubscriptionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for raw, sid := range m.tokens {
		if sid == id {
			return domain.ParseSubscriptionToken(raw)
		}
	}
	return domain.SubscriptionToken{}, storage.ErrNotFound
}

func (m *Memory) SubscriberIDByToken(_ context.Context, token domain.SubscriptionToken) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.tokens[token.String()]; ok {
		return id, nil
	}
	return uuid.Nil, storage.ErrNotFound
}

func (m *Memory) ConfirmSubscriber(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscribers[id]
	if !ok {
		return storage.ErrNotFound
	}
	sub.Status = domain.StatusConfirmed
	return nil
}

func (m *Memory) ConfirmedSubscribers(_ context.Context) ([]storage.ConfirmedSubscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []storage.ConfirmedSubscriber{}
	for _, id := range m.order {
		sub := m.subscribers[id]
		if sub.Status != domain.StatusConfirmed {
			continue
		}
		email, err := domain.ParseSubscriberEmail(sub.Email)
		out = append(out, storage.ConfirmedSubscriber{Email: email, Err: err})
	}
	return out, nil
}

func (m *Memory) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{m: m, tokens: make(map[string]uuid.UUID)}
	if err := fn(tx); err != nil {
		return err
	}
	for _, sub := range tx.subscribers {
		m.subscribers[sub.ID] = sub
		m.order = append(m.order, sub.ID)
	}
	for raw, id := range tx.tokens {
		m.tokens[raw] = id
	}
	return nil
}

// Subscriber returns a copy of the subscriber with the given email.
func (m *Memory) Subscriber(email string) (storage.Subscriber, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.idByEmail(email)
	if !ok {
		return storage.Subscriber{}, false
	}
	return *m.subscribers[id], true
}

// Count returns the number of stored subscribers and tokens.
func (m *Memory) Count() (subscribers, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers), len(m.tokens)
}

// AddRaw stores a subscriber bypassing validation, to simulate corrupt rows.
func (m *Memory) AddRaw(email string, status domain.SubscriberStatus) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.subscribers[id] = &storage.Subscriber{ID: id, Email: email, Status: status, SubscribedAt: time.Now().UTC()}
	m.order = append(m.order, id)
	return id
}

// idByEmail must be called with mu held.
func (m *Memory) idByEmail(email string) (uuid.UUID, bool) {
	for id, sub := range m.subscribers {
		if sub.Email == email {
			return id, true
		}
	}
	return uuid.Nil, false
}

type memoryTx struct {
	m           *Memory
	subscribers []*storage.Subscriber
	tokens      map[string]uuid.UUID
}

func (t *memoryTx) InsertSubscriber(_ context.Context, sub domain.NewSubscriber) (uuid.UUID, error) {
	if _, ok := t.m.idByEmail(sub.Email.String()); ok {
		return uuid.Nil, storage.ErrDuplicateEmail
	}
	for _, s := range t.subscribers {
		if s.Email == sub.Email.String() {
			return uuid.Nil, storage.ErrDuplicateEmail
		}
	}
	row := &storage.Subscriber{
		ID:           uuid.New(),
		Email:        sub.Email.String(),
		Name:         sub.Name.String(),
		Status:       domain.StatusPendingConfirmation,
		SubscribedAt: time.Now().UTC(),
	}
	t.subscribers = append(t.subscribers, row)
	return row.ID, nil
}

func (t *memoryTx) StoreToken(_ context.Context, id uuid.UUID, token domain.SubscriptionToken) error {
	for _, sid := range t.m.tokens {
		if sid == id {
			return storage.ErrTokenExists
		}
	}
	for _, sid := range t.tokens {
		if sid == id {
			return storage.ErrTokenExists
		}
	}
	t.tokens[token.String()] = id
	return nil
}

package storagemock

import (
	"context"

	"github.com/google/uuid"

	"newsletter-service/api/services/domain"
	"newsletter-service/api/services/storage"
)

// StorageMock lets tests override individual Storage methods. Methods
// without an override behave like an empty database.
type StorageMock struct {
	SubscriberIDByEmailMock  func(ctx context.Context, email domain.SubscriberEmail) (uuid.UUID, error)
	TokenBySubscriberIDMock  func(ctx context.Context, id uuid.UUID) (domain.SubscriptionToken, error)
	SubscriberIDByTokenMock  func(ctx context.Context, token domain.SubscriptionToken) (uuid.UUID, error)
	ConfirmSubscriberMock    func(ctx context.Context, id uuid.UUID) error
	ConfirmedSubscribersMock func(ctx context.Context) ([]storage.ConfirmedSubscriber, error)
	InsertSubscriberMock     func(ctx context.Context, sub domain.NewSubscriber) (uuid.UUID, error)
	StoreTokenMock           func(ctx context.Context, id uuid.UUID, token domain.SubscriptionToken) error
	// CommitErr is returned from InTx after fn succeeds.
	CommitErr error
}

var _ storage.Storage = (*StorageMock)(nil)

func (m *StorageMock) SubscriberIDByEmail(ctx context.Context, email domain.SubscriberEmail) (uuid.UUID, error) {
	if m != nil && m.SubscriberIDByEmailMock != nil {
		return m.SubscriberIDByEmailMock(ctx, email)
	}
	return uuid.Nil, storage.ErrNotFound
}

func (m *StorageMock) TokenBySubscriberID(ctx context.Context, id uuid.UUID) (domain.SubscriptionToken, error) {
	if m != nil && m.TokenBySubscriberIDMock != nil {
		return m.TokenBySubscriberIDMock(ctx, id)
	}
	return domain.SubscriptionToken{}, storage.ErrNotFound
}

func (m *StorageMock) SubscriberIDByToken(ctx context.Context, token domain.SubscriptionToken) (uuid.UUID, error) {
	if m != nil && m.SubscriberIDByTokenMock != nil {
		return m.SubscriberIDByTokenMock(ctx, token)
	}
	return uuid.Nil, storage.ErrNotFound
}

func (m *StorageMock) ConfirmSubscriber(ctx context.Context, id uuid.UUID) error {
	if m != nil && m.ConfirmSubscriberMock != nil {
		return m.ConfirmSubscriberMock(ctx, id)
	}
	return nil
}

func (m *StorageMock) ConfirmedSubscribers(ctx context.Context) ([]storage.ConfirmedSubscriber, error) {
	if m != nil && m.ConfirmedSubscribersMock != nil {
		return m.ConfirmedSubscribersMock(ctx)
	}
	return []storage.ConfirmedSubscriber{}, nil
}

func (m *StorageMock) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := fn(mockTx{m: m}); err != nil {
		return err
	}
	if m != nil {
		return m.CommitErr
	}
	return nil
}

type mockTx struct {
	m *StorageMock
}

func (t mockTx) InsertSubscriber(ctx context.Context, sub domain.NewSubscriber) (uuid.UUID, error) {
	if t.m != nil && t.m.InsertSubscriberMock != nil {
		return t.m.InsertSubscriberMock(ctx, sub)
	}
	return uuid.New(), nil
}

func (t mockTx) StoreToken(ctx context.Context, id uuid.UUID, token domain.SubscriptionToken) error {
	if t.m != nil && t.m.StoreTokenMock != nil {
		return t.m.StoreTokenMock(ctx, id, token)
	}
	return nil
}

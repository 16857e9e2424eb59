package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsletter-service/api/services/domain"
)

// queryTimeout bounds a single non-transactional round trip.
const queryTimeout = 5 * time.Second

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const tokenSubscriberConstraint = "subscription_tokens_subscriber_id_key"

var (
	// ErrNotFound is returned by lookups that matched no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateEmail means another subscriber already owns the email.
	ErrDuplicateEmail = errors.New("storage: subscriber email already exists")
	// ErrTokenExists means the subscriber already has a subscription token.
	ErrTokenExists = errors.New("storage: subscriber already has a token")
)

// DB abstracts the database operations used by the storage layer.
// Satisfied by *pgxpool.Pool in production and pgxmock in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Storage is the persistence boundary of the subscription workflows.
// Lookups return ErrNotFound when nothing matches.
type Storage interface {
	SubscriberIDByEmail(ctx context.Context, email domain.SubscriberEmail) (uuid.UUID, error)
	TokenBySubscriberID(ctx context.Context, id uuid.UUID) (domain.SubscriptionToken, error)
	SubscriberIDByToken(ctx context.Context, token domain.SubscriptionToken) (uuid.UUID, error)
	ConfirmSubscriber(ctx context.Context, id uuid.UUID) error
	ConfirmedSubscribers(ctx context.Context) ([]ConfirmedSubscriber, error)

	// InTx runs fn inside one transaction. Writes made through tx commit
	// together when fn returns nil and are rolled back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx holds the writes that must be atomic when a subscriber is created.
type Tx interface {
	InsertSubscriber(ctx context.Context, sub domain.NewSubscriber) (uuid.UUID, error)
	StoreToken(ctx context.Context, subscriberID uuid.UUID, token domain.SubscriptionToken) error
}

// PgStorage implements Storage using PostgreSQL.
type PgStorage struct {
	DB DB
}

// NewInstance creates a new PostgreSQL-backed Storage implementation.
func NewInstance(db *pgxpool.Pool) (Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("repository: db connection cannot be nil")
	}
	return &PgStorage{DB: db}, nil
}

func (s *PgStorage) SubscriberIDByEmail(ctx context.Context, email domain.SubscriberEmail) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var id uuid.UUID
	err := s.DB.QueryRow(ctx, `SELECT id FROM subscriptions WHERE email = $1`, email.String()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("select subscriber id by email: %w", err)
	}
	return id, nil
}

func (s *PgStorage) TokenBySubscriberID(ctx context.Context, id uuid.UUID) (domain.SubscriptionToken, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var raw string
	err := s.DB.QueryRow(ctx, `SELECT subscription_token FROM subscription_tokens WHERE subscriber_id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubscriptionToken{}, ErrNotFound
	}
	if err != nil {
		return domain.SubscriptionToken{}, fmt.Errorf("select token by subscriber id: %w", err)
	}

	token, err := domain.ParseSubscriptionToken(raw)
	if err != nil {
		return domain.SubscriptionToken{}, fmt.Errorf("stored token for subscriber %s: %w", id, err)
	}
	return token, nil
}

func (s *PgStorage) SubscriberIDByToken(ctx context.Context, token domain.SubscriptionToken) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var id uuid.UUID
	err := s.DB.QueryRow(ctx, `SELECT subscriber_id FROM subscription_tokens WHERE subscription_token = $1`, token.String()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("select subscriber id by token: %w", err)
	}
	return id, nil
}

// ConfirmSubscriber sets the status to confirmed. Confirming twice is not an error.
func (s *PgStorage) ConfirmSubscriber(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.DB.Exec(ctx, `UPDATE subscriptions SET status = $1 WHERE id = $2`,
		string(domain.StatusConfirmed), id)
	if err != nil {
		return fmt.Errorf("update subscriber status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConfirmedSubscribers lists confirmed subscribers in subscription order.
// A stored address that fails validation becomes an entry with Err set
// instead of failing the whole listing.
func (s *PgStorage) ConfirmedSubscribers(ctx context.Context) ([]ConfirmedSubscriber, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.DB.Query(ctx, `
        SELECT email
        FROM subscriptions
        WHERE status = $1
        ORDER BY subscribed_at, id`,
		string(domain.StatusConfirmed))
	if err != nil {
		return nil, fmt.Errorf("select confirmed subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := []ConfirmedSubscriber{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan confirmed subscriber: %w", err)
		}
		email, err := domain.ParseSubscriberEmail(raw)
		subscribers = append(subscribers, ConfirmedSubscriber{Email: email, Err: err})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate confirmed subscribers: %w", err)
	}
	return subscribers, nil
}

func (s *PgStorage) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.Warn("failed to roll back transaction", "error", rbErr)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// pgTx implements Tx on top of an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

// InsertSubscriber creates a pending subscriber with a fresh id.
func (t *pgTx) InsertSubscriber(ctx context.Context, sub domain.NewSubscriber) (uuid.UUID, error) {
	id := uuid.New()
	_, err := t.tx.Exec(ctx, `
        INSERT INTO subscriptions (id, email, name, subscribed_at, status)
        VALUES ($1, $2, $3, $4, $5)`,
		id, sub.Email.String(), sub.Name.String(), time.Now().UTC(), string(domain.StatusPendingConfirmation))
	if err != nil {
		if isUniqueViolation(err, "") {
			return uuid.Nil, ErrDuplicateEmail
		}
		return uuid.Nil, fmt.Errorf("insert subscriber: %w", err)
	}
	return id, nil
}

func (t *pgTx) StoreToken(ctx context.Context, subscriberID uuid.UUID, token domain.SubscriptionToken) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO subscription_tokens (subscription_token, subscriber_id)
        VALUES ($1, $2)`,
		token.String(), subscriberID)
	if err != nil {
		if isUniqueViolation(err, tokenSubscriberConstraint) {
			return ErrTokenExists
		}
		return fmt.Errorf("insert subscription token: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure,
// optionally restricted to one constraint name.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Package pgstore keeps a ledger of accepted payment events in Postgres.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
)

// DB is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertNotification = `
INSERT INTO payment_notifications (
    id, provider, kind, transaction_id, invoice_id, account_id,
    amount, currency, test_mode, payload, data, received_at
) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10::jsonb, $11::jsonb, $12)
ON CONFLICT (provider, kind, transaction_id) DO NOTHING`

// Store records every event it sees. Redeliveries hit the unique key and
// are accepted without a second row.
type Store struct {
	DB    DB
	NewID func() uuid.UUID
	Now   func() time.Time
}

// New returns a Store over db.
func New(db DB) *Store {
	return &Store{DB: db, NewID: uuid.New, Now: time.Now}
}

func (s *Store) OnPaymentCheck(ctx context.Context, ev payment.Event) error {
	_, err := s.Record(ctx, ev)
	return err
}

func (s *Store) OnPaymentSuccess(ctx context.Context, ev payment.Event) error {
	_, err := s.Record(ctx, ev)
	return err
}

func (s *Store) OnPaymentFail(ctx context.Context, ev payment.Event) error {
	_, err := s.Record(ctx, ev)
	return err
}

// Record inserts ev and reports whether a new row was written.
func (s *Store) Record(ctx context.Context, ev payment.Event) (bool, error) {
	if s.DB == nil {
		return false, errors.New("pgstore: database not configured")
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return false, fmt.Errorf("pgstore: encode data: %w", err)
	}
	var payload []byte
	if ev.Payload != nil {
		if payload, err = json.Marshal(ev.Payload); err != nil {
			return false, fmt.Errorf("pgstore: encode payload: %w", err)
		}
	}

	newID := s.NewID
	if newID == nil {
		newID = uuid.New
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}

	tag, err := s.DB.Exec(ctx, insertNotification,
		newID(),
		ev.Provider,
		ev.Kind.String(),
		ev.TransactionID,
		ev.InvoiceID,
		ev.UserID,
		ev.Amount.String(),
		ev.Currency,
		ev.TestMode,
		payload,
		data,
		now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("pgstore: insert notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Package pgstore implements the gateway contracts directly on PostgreSQL.
// It backs single-box deployments and the integration tests.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/shopspring/decimal"
)

const maxOrderNumberRetries = 3

// DBTX is what queries run on: a pool or a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a DBTX that can also start transactions. Satisfied by *pgxpool.Pool.
type DB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a gateway.Backend on PostgreSQL.
type Store struct {
	db           DB
	businessName string
	numberPrefix string
	now          func() time.Time
}

var _ gateway.Backend = (*Store)(nil)

type Option func(*Store)

// WithBusinessName sets the name printed on comandas and tickets.
func WithBusinessName(name string) Option { return func(s *Store) { s.businessName = name } }

// WithNumberPrefix sets the order number prefix, e.g. "ORD" gives ORD-001.
func WithNumberPrefix(p string) Option { return func(s *Store) { s.numberPrefix = p } }

func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, numberPrefix: "ORD", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool and verifies it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}

// isOrderNumberConflict checks for a unique violation on the order number.
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_outlet_id_order_number_key"
	}
	return false
}

func isDraftConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_outlet_id_draft_key_key"
	}
	return false
}

func formatOrderNumber(prefix string, seq int32) string {
	return fmt.Sprintf("%s-%03d", prefix, seq)
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	s, ok := val.(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}

func nullText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil || t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

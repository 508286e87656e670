// Package pg implements store.Store backed by Postgres.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/evogatehq/evogate/internal/store"
)

// OpenDB opens a database/sql handle over the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PGStore implements store.Store over Postgres.
type PGStore struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Open connects to Postgres and returns a ready store.
func Open(dsn string) (*PGStore, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

func (s *PGStore) GetCustomer(ctx context.Context, phone string) (store.Customer, bool, error) {
	var c store.Customer
	var username sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone, username, created_at FROM customers WHERE phone = $1`,
		phone,
	).Scan(&c.ID, &c.Phone, &username, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Customer{}, false, nil
	}
	if err != nil {
		return store.Customer{}, false, fmt.Errorf("get customer %s: %w", phone, err)
	}
	c.Username = username.String
	return c, true, nil
}

func (s *PGStore) CreateCustomer(ctx context.Context, phone, username string) (store.Customer, error) {
	c := store.Customer{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Phone:     phone,
		Username:  username,
		CreatedAt: time.Now(),
	}

	// Concurrent creates for the same phone resolve to the existing row.
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO customers (id, phone, username, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4)
		 ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		 RETURNING id, created_at`,
		c.ID, c.Phone, c.Username, c.CreatedAt,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return store.Customer{}, fmt.Errorf("create customer %s: %w", phone, err)
	}
	return c, nil
}

func (s *PGStore) SaveMessage(ctx context.Context, entry store.HistoryEntry) error {
	payload, err := json.Marshal(entry.Message)
	if err != nil {
		return fmt.Errorf("marshal message payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_history (id, customer_id, message, created_at)
		 VALUES ($1, $2, $3, $4)`,
		uuid.Must(uuid.NewV7()), entry.CustomerID, payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save message for customer %s: %w", entry.CustomerID, err)
	}
	return nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

package shop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store persists orders and users.
type Store interface {
	// CreateOrder inserts o and assigns its ID.
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	// UpdateOrder writes status, tracking number and UpdatedAt.
	UpdateOrder(ctx context.Context, o Order) error

	// CreateUser inserts u and assigns its ID. Usernames are unique.
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (User, error)
	MarkProfileCreated(ctx context.Context, userID int64) error

	Close() error
}

// SQLiteStore is a Store backed by SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL,
	profile_created INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	amount REAL NOT NULL,
	status TEXT NOT NULL,
	tracking_number TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);
`

// NewSQLiteStore opens the database at path (a file path or ":memory:")
// and creates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and every
	// connection to ":memory:" would otherwise see its own empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// CreateOrder implements Store.
func (s *SQLiteStore) CreateOrder(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (user_id, amount, status, tracking_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.UserID, o.Amount, string(o.Status), o.TrackingNumber, formatTime(o.CreatedAt), formatTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	o.ID = id
	return nil
}

// GetOrder implements Store.
func (s *SQLiteStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Order{}, ErrStoreClosed
	}

	var (
		o                Order
		status           string
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, status, tracking_number, created_at, updated_at
		FROM orders WHERE id = ?
	`, id).Scan(&o.ID, &o.UserID, &o.Amount, &status, &o.TrackingNumber, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Order{}, fmt.Errorf("load order: %w", err)
	}
	o.Status = OrderStatus(status)
	o.CreatedAt = parseTime(created)
	o.UpdatedAt = parseTime(updated)
	return o, nil
}

// UpdateOrder implements Store.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, tracking_number = ?, updated_at = ?
		WHERE id = ?
	`, string(o.Status), o.TrackingNumber, formatTime(o.UpdatedAt), o.ID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return requireOneRow(res, "order", o.ID)
}

// CreateUser implements Store.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, profile_created, created_at)
		VALUES (?, ?, ?, ?)
	`, u.Username, u.Email, u.ProfileCreated, formatTime(u.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser implements Store.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return User{}, ErrStoreClosed
	}

	var (
		u       User
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, profile_created, created_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Username, &u.Email, &u.ProfileCreated, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("load user: %w", err)
	}
	u.CreatedAt = parseTime(created)
	return u, nil
}

// MarkProfileCreated implements Store.
func (s *SQLiteStore) MarkProfileCreated(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET profile_created = 1 WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("mark profile created: %w", err)
	}
	return requireOneRow(res, "user", userID)
}

// Close implements Store. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func requireOneRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a registered account. Password holds the bcrypt hash.
type User struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Device is a registered sensor.
type Device struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUser inserts u and fills in its ID and CreatedAt.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	u.CreatedAt = s.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (first_name, last_name, email, password, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.FirstName, u.LastName, u.Email, u.Password, u.CreatedAt.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	var (
		u       User
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, password, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return User{}, err
	}
	return u, nil
}

// CreateDevice inserts a device with the given name.
func (s *Store) CreateDevice(ctx context.Context, name string) (Device, error) {
	d := Device{Name: name, CreatedAt: s.Now()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (name, created_at) VALUES (?, ?)`, d.Name, d.CreatedAt.Format(timeLayout))
	if err != nil {
		return Device{}, fmt.Errorf("insert device: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return Device{}, fmt.Errorf("insert device: %w", err)
	}
	return d, nil
}

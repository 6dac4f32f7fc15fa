package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Token owners.
const (
	OwnerUser   = "user"
	OwnerDevice = "device"
)

// Token is a stored personal access token. The secret itself is never kept.
type Token struct {
	ID        int64
	OwnerType string
	OwnerID   int64
	Name      string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// CreateToken issues a token for the owner and returns its plain-text form,
// "<id>|<40 hex chars>". A nil expiresAt never expires.
func (s *Store) CreateToken(ctx context.Context, ownerType string, ownerID int64, name string, expiresAt *time.Time) (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	secret := hex.EncodeToString(buf)

	var expires any
	if expiresAt != nil {
		expires = expiresAt.UTC().Format(timeLayout)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO personal_access_tokens (owner_type, owner_id, name, token, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ownerType, ownerID, name, hashSecret(secret), expires, s.Now().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("insert token: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("insert token: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"owner_type": ownerType,
		"owner_id":   ownerID,
		"name":       name,
	}).Debug("Token issued")
	return strconv.FormatInt(id, 10) + "|" + secret, nil
}

// LookupToken resolves a plain-text token and records its use.
func (s *Store) LookupToken(ctx context.Context, plain string) (Token, error) {
	idPart, secret, ok := strings.Cut(plain, "|")
	if !ok || secret == "" {
		return Token{}, ErrNotFound
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return Token{}, ErrNotFound
	}

	var (
		t       Token
		hash    string
		expires sql.NullString
		created string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, owner_type, owner_id, name, token, expires_at, created_at FROM personal_access_tokens WHERE id = ?`, id).
		Scan(&t.ID, &t.OwnerType, &t.OwnerID, &t.Name, &hash, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("query token: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(hashSecret(secret))) != 1 {
		return Token{}, ErrNotFound
	}

	if t.CreatedAt, err = parseTime(created); err != nil {
		return Token{}, err
	}
	now := s.Now()
	if expires.Valid {
		exp, err := parseTime(expires.String)
		if err != nil {
			return Token{}, err
		}
		t.ExpiresAt = &exp
		if !now.Before(exp) {
			return Token{}, ErrTokenExpired
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE personal_access_tokens SET last_used_at = ? WHERE id = ?`, now.Format(timeLayout), t.ID); err != nil {
		return Token{}, fmt.Errorf("touch token: %w", err)
	}
	return t, nil
}

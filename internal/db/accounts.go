package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

func (d *DB) CreateAccount(username, passwordHash string) (*Account, error) {
	acc := &Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().Truncate(time.Millisecond),
	}
	_, err := d.sql.Exec(
		`INSERT INTO accounts (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		acc.ID, acc.Username, acc.PasswordHash, acc.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (d *DB) GetAccountByUsername(username string) (*Account, error) {
	return d.getAccount(`SELECT id, username, password_hash, created_at FROM accounts WHERE username = ?`, username)
}

func (d *DB) GetAccountByID(id string) (*Account, error) {
	return d.getAccount(`SELECT id, username, password_hash, created_at FROM accounts WHERE id = ?`, id)
}

func (d *DB) getAccount(query, arg string) (*Account, error) {
	var acc Account
	var created int64
	err := d.sql.QueryRow(query, arg).Scan(&acc.ID, &acc.Username, &acc.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	acc.CreatedAt = time.UnixMilli(created)
	return &acc, nil
}

func (d *DB) UpdateAccountPassword(id, passwordHash string) error {
	_, err := d.sql.Exec(`UPDATE accounts SET password_hash = ? WHERE id = ?`, passwordHash, id)
	return err
}

// HasAnyAccount reports whether relay authentication is configured.
func (d *DB) HasAnyAccount() (bool, error) {
	var count int
	err := d.sql.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&count)
	return count > 0, err
}

func (d *DB) CreateRefreshToken(token, accountID string, expiresAt time.Time) error {
	_, err := d.sql.Exec(
		`INSERT INTO refresh_tokens (token, account_id, expires_at) VALUES (?, ?, ?)`,
		token, accountID, expiresAt.UnixMilli(),
	)
	return err
}

// GetRefreshToken returns an unexpired token. Expired tokens read as
// ErrNotFound.
func (d *DB) GetRefreshToken(token string) (*RefreshToken, error) {
	var rt RefreshToken
	var exp int64
	err := d.sql.QueryRow(
		`SELECT token, account_id, expires_at FROM refresh_tokens WHERE token = ?`, token,
	).Scan(&rt.Token, &rt.AccountID, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rt.ExpiresAt = time.UnixMilli(exp)
	if time.Now().After(rt.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &rt, nil
}

func (d *DB) DeleteRefreshToken(token string) error {
	_, err := d.sql.Exec(`DELETE FROM refresh_tokens WHERE token = ?`, token)
	return err
}

func (d *DB) DeleteRefreshTokensByAccount(accountID string) error {
	_, err := d.sql.Exec(`DELETE FROM refresh_tokens WHERE account_id = ?`, accountID)
	return err
}

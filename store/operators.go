package store

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type Operator struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateOperator stores a new operator with a bcrypt hash of password.
func (db *DB) CreateOperator(username, displayName, password string) (*Operator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id, err := db.insertID(db, `INSERT INTO operators (username, display_name, password_hash) VALUES (?, ?, ?)`,
		username, displayName, string(hash))
	if err != nil {
		return nil, fmt.Errorf("create operator %s: %w", username, err)
	}
	return &Operator{ID: id, Username: username, DisplayName: displayName, PasswordHash: string(hash)}, nil
}

func (db *DB) GetOperator(username string) (*Operator, error) {
	var o Operator
	var createdAt any
	err := db.QueryRow(db.Q(`SELECT id, username, display_name, password_hash, created_at FROM operators WHERE username=?`), username).
		Scan(&o.ID, &o.Username, &o.DisplayName, &o.PasswordHash, &createdAt)
	if err != nil {
		return nil, notFound(err, "operator "+username)
	}
	o.CreatedAt = parseTime(createdAt)
	return &o, nil
}

// Authenticate returns the operator when password matches.
func (db *DB) Authenticate(username, password string) (*Operator, error) {
	o, err := db.GetOperator(username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("operator %s: bad password", username)
	}
	return o, nil
}

func (db *DB) ListOperators() ([]string, error) {
	rows, err := db.Query(`SELECT username FROM operators ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (db *DB) OperatorExists() (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM operators`).Scan(&count)
	return count > 0, err
}

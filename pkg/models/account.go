package models

import (
	"time"

	"github.com/google/uuid"
)

// VaultBalance is an account's free balance in base units of the settlement
// currency. Escrow and stake movements debit and credit this row.
type VaultBalance struct {
	Address   Address   `db:"address"    json:"address"`
	Balance   int64     `db:"balance"    json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// API key scopes. Every key binds to a ledger address; scoped keys unlock the
// privileged surfaces.
const (
	ScopeAccount = "account"
	ScopeArbiter = "arbiter"
	ScopeOracle  = "oracle"
	ScopeAdmin   = "admin"
)

// APIKey authenticates a caller and resolves them to a ledger address.
// Raw keys are shown once at creation; only the bcrypt hash is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Address    Address    `db:"address"      json:"address"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

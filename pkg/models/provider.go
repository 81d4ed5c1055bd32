package models

import "time"

// ProviderEntry is a registry listing for a compute provider. Entries are
// never deleted, only deactivated, so references from historical jobs stay
// resolvable. Position preserves registration order.
type ProviderEntry struct {
	Address     Address   `db:"address"      json:"address"`
	MetadataURI string    `db:"metadata_uri" json:"metadata_uri"`
	BasePrice   int64     `db:"base_price"   json:"base_price"`
	Active      bool      `db:"active"       json:"active"`
	Position    int64     `db:"position"     json:"position"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}

// StakeRecord is a provider's collateral and reputation bookkeeping.
// Locked tracks stake held against open accepted jobs; Staked-Locked is the
// amount free to unstake.
type StakeRecord struct {
	Address       Address   `db:"address"        json:"address"`
	Staked        int64     `db:"staked"         json:"staked"`
	Locked        int64     `db:"locked"         json:"locked"`
	Reputation    int64     `db:"reputation"     json:"reputation"`
	CompletedJobs int64     `db:"completed_jobs" json:"completed_jobs"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

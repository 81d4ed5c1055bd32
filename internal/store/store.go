package store

import (
	"context"
	"errors"

	"github.com/cipherworks/fhemarket/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInsufficientBalance = errors.New("insufficient balance")

// Store is the data access interface. All database operations go through here.
// InTx runs fn against a Store bound to a single transaction; any error from
// fn rolls back every write made inside it, which is how every marketplace
// operation gets its all-or-nothing semantics.
type Store interface {
	Ping(ctx context.Context) error
	InTx(ctx context.Context, fn func(Store) error) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, address models.Address) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	GetBalance(ctx context.Context, address models.Address) (int64, error)
	AddBalance(ctx context.Context, address models.Address, delta int64) (int64, error)

	NextJobID(ctx context.Context) (int64, error)
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	GetJobForUpdate(ctx context.Context, id int64) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)

	GetStake(ctx context.Context, address models.Address) (*models.StakeRecord, error)
	GetStakeForUpdate(ctx context.Context, address models.Address) (*models.StakeRecord, error)
	UpsertStake(ctx context.Context, rec *models.StakeRecord) error

	CreateProvider(ctx context.Context, entry *models.ProviderEntry) error
	GetProvider(ctx context.Context, address models.Address) (*models.ProviderEntry, error)
	UpdateProvider(ctx context.Context, entry *models.ProviderEntry) error
	ListProviders(ctx context.Context) ([]*models.ProviderEntry, error)

	GetCommitment(ctx context.Context, jobID int64) (*models.CommitmentRecord, error)
	GetCommitmentForUpdate(ctx context.Context, jobID int64) (*models.CommitmentRecord, error)
	UpsertCommitment(ctx context.Context, rec *models.CommitmentRecord) error
	GrantCommitmentAccess(ctx context.Context, jobID int64, provider models.Address) error
	RevokeCommitmentAccess(ctx context.Context, jobID int64, provider models.Address) error

	InsertEvent(ctx context.Context, ev *models.Event) error
	ListEvents(ctx context.Context, jobID int64) ([]*models.Event, error)
}

// JobFilter narrows ListJobs. Zero values mean "no constraint".
type JobFilter struct {
	Consumer models.Address
	Provider models.Address
	Status   string
	Limit    int
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cipherworks/fhemarket/pkg/models"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, consumer, provider, price, escrow, input_commitment, result_commitment,
	submitted_at, deadline, status, created_at, updated_at`

// --- Jobs ---

// NextJobID allocates the next dense job ID. Must run inside the transaction
// that inserts the job, so a rollback releases the ID before it is visible.
func (s *PostgresStore) NextJobID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`UPDATE job_counter SET next_id = next_id + 1 WHERE singleton RETURNING next_id - 1`,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("allocate job id: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO jobs (id, consumer, provider, price, escrow, input_commitment, result_commitment,
		   submitted_at, deadline, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.Consumer, job.Provider, job.Price, job.Escrow, job.InputCommitment,
		job.ResultCommitment, job.SubmittedAt, job.Deadline, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return s.getJob(ctx, id, false)
}

// GetJobForUpdate locks the job row for the rest of the transaction, so no
// concurrent call can transition the same job underneath us.
func (s *PostgresStore) GetJobForUpdate(ctx context.Context, id int64) (*models.Job, error) {
	return s.getJob(ctx, id, true)
}

func (s *PostgresStore) getJob(ctx context.Context, id int64, forUpdate bool) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var j models.Job
	err := s.db.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.Consumer, &j.Provider, &j.Price, &j.Escrow, &j.InputCommitment,
		&j.ResultCommitment, &j.SubmittedAt, &j.Deadline, &j.Status, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.Job) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET provider = $2, escrow = $3, result_commitment = $4, submitted_at = $5,
		   status = $6, updated_at = NOW()
		 WHERE id = $1`,
		job.ID, job.Provider, job.Escrow, job.ResultCommitment, job.SubmittedAt, job.Status)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Consumer != "" {
		conditions = append(conditions, fmt.Sprintf("consumer = $%d", argIdx))
		args = append(args, filter.Consumer)
		argIdx++
	}
	if filter.Provider != "" {
		conditions = append(conditions, fmt.Sprintf("provider = $%d", argIdx))
		args = append(args, filter.Provider)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT `+jobColumns+` FROM jobs WHERE %s ORDER BY id LIMIT $%d`,
		strings.Join(conditions, " AND "), argIdx)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.Consumer, &j.Provider, &j.Price, &j.Escrow, &j.InputCommitment,
			&j.ResultCommitment, &j.SubmittedAt, &j.Deadline, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// --- Stakes ---

func (s *PostgresStore) GetStake(ctx context.Context, address models.Address) (*models.StakeRecord, error) {
	return s.getStake(ctx, address, false)
}

func (s *PostgresStore) GetStakeForUpdate(ctx context.Context, address models.Address) (*models.StakeRecord, error) {
	return s.getStake(ctx, address, true)
}

func (s *PostgresStore) getStake(ctx context.Context, address models.Address, forUpdate bool) (*models.StakeRecord, error) {
	query := `SELECT address, staked, locked, reputation, completed_jobs, created_at, updated_at
		 FROM stakes WHERE address = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var r models.StakeRecord
	err := s.db.QueryRow(ctx, query, address).Scan(
		&r.Address, &r.Staked, &r.Locked, &r.Reputation, &r.CompletedJobs, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stake: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) UpsertStake(ctx context.Context, rec *models.StakeRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO stakes (address, staked, locked, reputation, completed_jobs)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (address) DO UPDATE
		 SET staked = EXCLUDED.staked, locked = EXCLUDED.locked, reputation = EXCLUDED.reputation,
		     completed_jobs = EXCLUDED.completed_jobs, updated_at = NOW()`,
		rec.Address, rec.Staked, rec.Locked, rec.Reputation, rec.CompletedJobs)
	if err != nil {
		return fmt.Errorf("upsert stake: %w", err)
	}
	return nil
}

// --- Registry ---

func (s *PostgresStore) CreateProvider(ctx context.Context, entry *models.ProviderEntry) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO registry_providers (address, metadata_uri, base_price, active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING position, created_at, updated_at`,
		entry.Address, entry.MetadataURI, entry.BasePrice, entry.Active,
	).Scan(&entry.Position, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProvider(ctx context.Context, address models.Address) (*models.ProviderEntry, error) {
	var e models.ProviderEntry
	err := s.db.QueryRow(ctx,
		`SELECT address, metadata_uri, base_price, active, position, created_at, updated_at
		 FROM registry_providers WHERE address = $1`, address,
	).Scan(&e.Address, &e.MetadataURI, &e.BasePrice, &e.Active, &e.Position, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) UpdateProvider(ctx context.Context, entry *models.ProviderEntry) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE registry_providers SET metadata_uri = $2, base_price = $3, active = $4, updated_at = NOW()
		 WHERE address = $1`,
		entry.Address, entry.MetadataURI, entry.BasePrice, entry.Active)
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]*models.ProviderEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT address, metadata_uri, base_price, active, position, created_at, updated_at
		 FROM registry_providers ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var entries []*models.ProviderEntry
	for rows.Next() {
		var e models.ProviderEntry
		if err := rows.Scan(&e.Address, &e.MetadataURI, &e.BasePrice, &e.Active,
			&e.Position, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Commitments ---

const commitmentColumns = `job_id, input_handle, input_proof, input_at,
	result_handle, result_proof, result_proof_hash, result_provider, result_at,
	decryption_pending, decrypted, decrypted_value, decrypted_at, created_at, updated_at`

func (s *PostgresStore) GetCommitment(ctx context.Context, jobID int64) (*models.CommitmentRecord, error) {
	return s.getCommitment(ctx, jobID, false)
}

func (s *PostgresStore) GetCommitmentForUpdate(ctx context.Context, jobID int64) (*models.CommitmentRecord, error) {
	return s.getCommitment(ctx, jobID, true)
}

func (s *PostgresStore) getCommitment(ctx context.Context, jobID int64, forUpdate bool) (*models.CommitmentRecord, error) {
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE job_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var c models.CommitmentRecord
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&c.JobID, &c.InputHandle, &c.InputProof, &c.InputAt,
		&c.ResultHandle, &c.ResultProof, &c.ResultProofHash, &c.ResultProvider, &c.ResultAt,
		&c.DecryptionPending, &c.Decrypted, &c.DecryptedValue, &c.DecryptedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get commitment: %w", err)
	}

	access, err := s.listAccess(ctx, jobID)
	if err != nil {
		return nil, err
	}
	c.Access = access
	return &c, nil
}

func (s *PostgresStore) listAccess(ctx context.Context, jobID int64) ([]models.Address, error) {
	rows, err := s.db.Query(ctx,
		`SELECT provider FROM commitment_access WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list commitment access: %w", err)
	}
	defer rows.Close()

	var access []models.Address
	for rows.Next() {
		var a models.Address
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan commitment access: %w", err)
		}
		access = append(access, a)
	}
	return access, rows.Err()
}

func (s *PostgresStore) UpsertCommitment(ctx context.Context, rec *models.CommitmentRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO commitments (job_id, input_handle, input_proof, input_at,
		   result_handle, result_proof, result_proof_hash, result_provider, result_at,
		   decryption_pending, decrypted, decrypted_value, decrypted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (job_id) DO UPDATE
		 SET input_handle = EXCLUDED.input_handle, input_proof = EXCLUDED.input_proof,
		     input_at = EXCLUDED.input_at, result_handle = EXCLUDED.result_handle,
		     result_proof = EXCLUDED.result_proof, result_proof_hash = EXCLUDED.result_proof_hash,
		     result_provider = EXCLUDED.result_provider, result_at = EXCLUDED.result_at,
		     decryption_pending = EXCLUDED.decryption_pending, decrypted = EXCLUDED.decrypted,
		     decrypted_value = EXCLUDED.decrypted_value, decrypted_at = EXCLUDED.decrypted_at,
		     updated_at = NOW()`,
		rec.JobID, rec.InputHandle, rec.InputProof, rec.InputAt,
		rec.ResultHandle, rec.ResultProof, rec.ResultProofHash, rec.ResultProvider, rec.ResultAt,
		rec.DecryptionPending, rec.Decrypted, rec.DecryptedValue, rec.DecryptedAt)
	if err != nil {
		return fmt.Errorf("upsert commitment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GrantCommitmentAccess(ctx context.Context, jobID int64, provider models.Address) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO commitment_access (job_id, provider) VALUES ($1, $2)
		 ON CONFLICT (job_id, provider) DO NOTHING`, jobID, provider)
	if err != nil {
		return fmt.Errorf("grant commitment access: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeCommitmentAccess(ctx context.Context, jobID int64, provider models.Address) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM commitment_access WHERE job_id = $1 AND provider = $2`, jobID, provider)
	if err != nil {
		return fmt.Errorf("revoke commitment access: %w", err)
	}
	return nil
}

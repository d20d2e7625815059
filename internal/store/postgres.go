package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmenta/segmenta/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Datasets ---

func (s *PostgresStore) CreateDataset(ctx context.Context, dataset *models.Dataset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO datasets (id, tenant_id, file_name, description, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		dataset.ID, dataset.TenantID, dataset.FileName, dataset.Description, dataset.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create dataset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDataset(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Dataset, error) {
	var d models.Dataset
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, file_name, description, created_at
		 FROM datasets WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&d.ID, &d.TenantID, &d.FileName, &d.Description, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) DatasetExists(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM datasets WHERE id = $1 AND tenant_id = $2)`, id, tenantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dataset exists: %w", err)
	}
	return exists, nil
}

// --- Customer records ---

// BulkInsertCustomerRecords inserts records with COPY. Used by CSV ingestion,
// one batch per CSV chunk.
func (s *PostgresStore) BulkInsertCustomerRecords(ctx context.Context, records []*models.CustomerRecord) error {
	if len(records) == 0 {
		return nil
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"customer_records"},
		[]string{"id", "dataset_id", "original_customer_id", "gender", "age", "annual_income", "spending_score", "created_at"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{r.ID, r.DatasetID, r.OriginalCustomerID, r.Gender, r.Age, r.AnnualIncome, r.SpendingScore, r.CreatedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("bulk insert customer records: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCustomerRecords(ctx context.Context, datasetID uuid.UUID) ([]*models.CustomerRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset_id, original_customer_id, gender, age, annual_income, spending_score, cluster_label, created_at
		 FROM customer_records WHERE dataset_id = $1 ORDER BY created_at, id`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list customer records: %w", err)
	}
	defer rows.Close()

	var records []*models.CustomerRecord
	for rows.Next() {
		var r models.CustomerRecord
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.OriginalCustomerID, &r.Gender, &r.Age,
			&r.AnnualIncome, &r.SpendingScore, &r.ClusterLabel, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer record: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// BulkUpdateClusterLabels overwrites cluster_label for every record in the
// mapping inside a single transaction, so a pipeline either labels all of its
// rows or none of them.
func (s *PostgresStore) BulkUpdateClusterLabels(ctx context.Context, labels map[uuid.UUID]int) error {
	if len(labels) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin label update: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for id, label := range labels {
		batch.Queue(`UPDATE customer_records SET cluster_label = $2 WHERE id = $1`, id, label)
	}

	br := tx.SendBatch(ctx, batch)
	for range labels {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("update cluster label: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close label batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit label update: %w", err)
	}
	return nil
}

// --- Analysis jobs ---

func (s *PostgresStore) CreateAnalysisJob(ctx context.Context, job *models.AnalysisJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (id, tenant_id, dataset_id, mode, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.TenantID, job.DatasetID, job.Mode, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create analysis job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysisJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, dataset_id, mode, status, results, started_at, finished_at, created_at
		 FROM analysis_jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&j.ID, &j.TenantID, &j.DatasetID, &j.Mode, &j.Status, &j.Results,
		&j.StartedAt, &j.FinishedAt, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis job: %w", err)
	}
	return &j, nil
}

var validTransitions = map[string][]string{
	models.JobStatusQueued:  {models.JobStatusRunning},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

// UpdateAnalysisJobStatus advances a job along the one-way lifecycle.
// Terminal transitions write status, results and finished_at in a single
// UPDATE so the change is atomic per job row.
func (s *PostgresStore) UpdateAnalysisJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &JobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM analysis_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get analysis job status: %w", err)
	}

	valid := false
	for _, a := range validTransitions[currentStatus] {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE analysis_jobs SET status = $2`
	args := []any{id, status}
	argIdx := 3

	if status == models.JobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", finished_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.Results != nil {
		query += fmt.Sprintf(", results = $%d", argIdx)
		args = append(args, params.Results)
		argIdx++
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update analysis job status: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmenta/segmenta/internal/store"
	"github.com/segmenta/segmenta/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("segmenta_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// defaultTenantID returns the UUID of the seeded default tenant.
func defaultTenantID(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	tenant, err := s.GetDefaultTenant(context.Background())
	require.NoError(t, err)
	return tenant.ID
}

func createTestDataset(t *testing.T, s store.Store, tenantID uuid.UUID) *models.Dataset {
	t.Helper()
	dataset := &models.Dataset{
		ID:       uuid.New(),
		TenantID: tenantID,
		FileName: "mall_customers.csv",
	}
	require.NoError(t, s.CreateDataset(context.Background(), dataset))
	return dataset
}

func insertTestRecords(t *testing.T, s store.Store, datasetID uuid.UUID, n int) []*models.CustomerRecord {
	t.Helper()
	records := make([]*models.CustomerRecord, n)
	for i := range records {
		records[i] = &models.CustomerRecord{
			ID:                 uuid.New(),
			DatasetID:          datasetID,
			OriginalCustomerID: i + 1,
			Gender:             []string{"Male", "Female"}[i%2],
			Age:                20 + i,
			AnnualIncome:       15 + i*5,
			SpendingScore:      1 + (i*11)%99,
		}
	}
	require.NoError(t, s.BulkInsertCustomerRecords(context.Background(), records))
	return records
}

// --- Tenant Tests ---

func TestGetDefaultTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	tenant, err := s.GetDefaultTenant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", tenant.Name)
	assert.NotEqual(t, uuid.Nil, tenant.ID)
}

// --- Dataset Tests ---

func TestDataset_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	tenantID := defaultTenantID(t, s)

	created := createTestDataset(t, s, tenantID)

	got, err := s.GetDataset(context.Background(), created.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "mall_customers.csv", got.FileName)
	assert.False(t, got.CreatedAt.IsZero())

	exists, err := s.DatasetExists(context.Background(), created.ID, tenantID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.DatasetExists(context.Background(), uuid.New(), tenantID)
	require.NoError(t, err)
	assert.False(t, exists)

	// A dataset is invisible to other tenants.
	_, err = s.GetDataset(context.Background(), created.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCustomerRecords_BulkInsertAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	tenantID := defaultTenantID(t, s)
	dataset := createTestDataset(t, s, tenantID)

	insertTestRecords(t, s, dataset.ID, 5)

	records, err := s.ListCustomerRecords(context.Background(), dataset.ID)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for _, r := range records {
		assert.Equal(t, dataset.ID, r.DatasetID)
		assert.Nil(t, r.ClusterLabel)
	}

	empty, err := s.ListCustomerRecords(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCustomerRecords_BulkUpdateClusterLabels(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	tenantID := defaultTenantID(t, s)
	dataset := createTestDataset(t, s, tenantID)

	inserted := insertTestRecords(t, s, dataset.ID, 4)

	labels := make(map[uuid.UUID]int, len(inserted))
	for i, r := range inserted {
		labels[r.ID] = i % 2
	}
	require.NoError(t, s.BulkUpdateClusterLabels(context.Background(), labels))

	records, err := s.ListCustomerRecords(context.Background(), dataset.ID)
	require.NoError(t, err)
	for _, r := range records {
		require.NotNil(t, r.ClusterLabel)
		assert.Equal(t, labels[r.ID], *r.ClusterLabel)
	}

	// A second run overwrites all labels.
	for id := range labels {
		labels[id] = 7
	}
	require.NoError(t, s.BulkUpdateClusterLabels(context.Background(), labels))

	records, err = s.ListCustomerRecords(context.Background(), dataset.ID)
	require.NoError(t, err)
	for _, r := range records {
		require.NotNil(t, r.ClusterLabel)
		assert.Equal(t, 7, *r.ClusterLabel)
	}
}

// --- Analysis Job Tests ---

func createTestJob(t *testing.T, s store.Store, tenantID, datasetID uuid.UUID, mode string) *models.AnalysisJob {
	t.Helper()
	job := &models.AnalysisJob{
		ID:        uuid.New(),
		TenantID:  tenantID,
		DatasetID: datasetID,
		Mode:      mode,
		Status:    models.JobStatusQueued,
	}
	require.NoError(t, s.CreateAnalysisJob(context.Background(), job))
	return job
}

func TestAnalysisJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	tenantID := defaultTenantID(t, s)
	dataset := createTestDataset(t, s, tenantID)

	job := createTestJob(t, s, tenantID, dataset.ID, models.AnalysisModeStatic)

	got, err := s.GetAnalysisJob(context.Background(), job.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, models.AnalysisModeStatic, got.Mode)
	assert.Nil(t, got.Results)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	_, err = s.GetAnalysisJob(context.Background(), uuid.New(), tenantID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Jobs are tenant scoped.
	_, err = s.GetAnalysisJob(context.Background(), job.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnalysisJob_StatusTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	dataset := createTestDataset(t, s, tenantID)

	job := createTestJob(t, s, tenantID, dataset.ID, models.AnalysisModeStatic)

	require.NoError(t, s.UpdateAnalysisJobStatus(ctx, job.ID, models.JobStatusRunning))

	got, err := s.GetAnalysisJob(ctx, job.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, s.UpdateAnalysisJobStatus(ctx, job.ID, models.JobStatusCompleted))

	got, err = s.GetAnalysisJob(ctx, job.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.FinishedAt)
}

func TestAnalysisJob_InvalidTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	dataset := createTestDataset(t, s, tenantID)

	// queued cannot jump straight to a terminal status.
	job := createTestJob(t, s, tenantID, dataset.ID, models.AnalysisModeStatic)
	err := s.UpdateAnalysisJobStatus(ctx, job.ID, models.JobStatusCompleted)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	// Terminal statuses are final.
	job2 := createTestJob(t, s, tenantID, dataset.ID, models.AnalysisModeDynamic)
	require.NoError(t, s.UpdateAnalysisJobStatus(ctx, job2.ID, models.JobStatusRunning))
	require.NoError(t, s.UpdateAnalysisJobStatus(ctx, job2.ID, models.JobStatusFailed))

	err = s.UpdateAnalysisJobStatus(ctx, job2.ID, models.JobStatusRunning)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	err = s.UpdateAnalysisJobStatus(ctx, job2.ID, models.JobStatusCompleted)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	// Missing job.
	err = s.UpdateAnalysisJobStatus(ctx, uuid.New(), models.JobStatusRunning)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnalysisJob_ResultsWrittenWithTerminalStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	dataset := createTestDataset(t, s, tenantID)

	job := createTestJob(t, s, tenantID, dataset.ID, models.AnalysisModeDynamic)
	require.NoError(t, s.UpdateAnalysisJobStatus(ctx, job.ID, models.JobStatusRunning))

	results := &models.JobResults{
		Summary:               "Segmentation analysis complete for dataset " + dataset.ID.String() + ".",
		TotalRecordsProcessed: 200,
		ClusterDistribution:   map[int]int{0: 80, 1: 70, 2: 50},
		Features:              []string{"Age", "Annual Income (k$)"},
		ClusterCount:          3,
	}
	require.NoError(t, s.UpdateAnalysisJobStatus(ctx, job.ID, models.JobStatusCompleted, store.WithResults(results)))

	got, err := s.GetAnalysisJob(ctx, job.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Results)
	assert.Equal(t, 200, got.Results.TotalRecordsProcessed)
	assert.Equal(t, map[int]int{0: 80, 1: 70, 2: 50}, got.Results.ClusterDistribution)
	assert.Equal(t, []string{"Age", "Annual Income (k$)"}, got.Results.Features)
	assert.Equal(t, 3, got.Results.ClusterCount)
	assert.NotNil(t, got.FinishedAt)
}

func TestAnalysisJob_FailedCarriesError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	dataset := createTestDataset(t, s, tenantID)

	job := createTestJob(t, s, tenantID, dataset.ID, models.AnalysisModeDynamic)
	require.NoError(t, s.UpdateAnalysisJobStatus(ctx, job.ID, models.JobStatusRunning))

	results := &models.JobResults{
		Error:             "no customer data found for this dataset",
		FeaturesAttempted: []string{"Age", "Favorite Color"},
	}
	require.NoError(t, s.UpdateAnalysisJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithResults(results)))

	got, err := s.GetAnalysisJob(ctx, job.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Results)
	assert.Equal(t, "no customer data found for this dataset", got.Results.Error)
	assert.Equal(t, []string{"Age", "Favorite Color"}, got.Results.FeaturesAttempted)
}

// --- API Key Tests ---

func TestAPIKey_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	key := &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "ci",
		KeyHash:   "$2a$10$abcdefghijklmnopqrstuvwx",
		KeyPrefix: "sg_12345678",
		Scopes:    []string{"read", "write"},
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	found, err := s.GetAPIKeyByPrefix(ctx, key.KeyPrefix)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, key.ID, found[0].ID)
	assert.Equal(t, []string{"read", "write"}, found[0].Scopes)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	keys, err := s.ListAPIKeys(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID, tenantID))

	// Revoked keys no longer resolve by prefix or appear in listings.
	found, err = s.GetAPIKeyByPrefix(ctx, key.KeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, found)

	keys, err = s.ListAPIKeys(ctx, tenantID)
	require.NoError(t, err)
	assert.Empty(t, keys)

	err = s.RevokeAPIKey(ctx, key.ID, tenantID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

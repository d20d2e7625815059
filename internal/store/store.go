package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/segmenta/segmenta/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateDataset(ctx context.Context, dataset *models.Dataset) error
	GetDataset(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Dataset, error)
	DatasetExists(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (bool, error)
	BulkInsertCustomerRecords(ctx context.Context, records []*models.CustomerRecord) error
	ListCustomerRecords(ctx context.Context, datasetID uuid.UUID) ([]*models.CustomerRecord, error)
	BulkUpdateClusterLabels(ctx context.Context, labels map[uuid.UUID]int) error

	CreateAnalysisJob(ctx context.Context, job *models.AnalysisJob) error
	GetAnalysisJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.AnalysisJob, error)
	UpdateAnalysisJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
}

// JobUpdateParams collects optional fields for a job status update.
type JobUpdateParams struct {
	Results *models.JobResults
}

type JobUpdateOption func(*JobUpdateParams)

// WithResults attaches a results payload to a terminal status update. The
// payload, finished_at and the status itself are written in one statement so
// no partial terminal state is ever observable.
func WithResults(results *models.JobResults) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.Results = results
	}
}

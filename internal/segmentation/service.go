package segmentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmenta/segmenta/internal/cache"
	"github.com/segmenta/segmenta/internal/config"
	"github.com/segmenta/segmenta/internal/metrics"
	"github.com/segmenta/segmenta/internal/store"
	"github.com/segmenta/segmenta/pkg/models"
)

// canonical attributes the pre-trained model was fit on.
var staticAttributes = []Attribute{AttrAnnualIncome, AttrSpendingScore}

// Service owns the analysis job lifecycle: it creates jobs, dispatches them
// to background workers, walks each job through queued -> running ->
// completed|failed, and serves the synchronous live-prediction path.
//
// There is no mutual exclusion across jobs sharing a dataset: concurrent runs
// race on cluster_label and the last writer wins.
type Service struct {
	store  store.Store
	cache  cache.Cache
	model  *Model
	runner *Runner
	cfg    config.AnalysisConfig
}

// NewService creates the segmentation service. The model handle may be
// unavailable; in that state only the dynamic pipeline works.
func NewService(st store.Store, ca cache.Cache, model *Model, cfg config.AnalysisConfig) *Service {
	s := &Service{
		store: st,
		cache: ca,
		model: model,
		cfg:   cfg,
	}
	s.runner = NewRunner(cfg.QueueSize, s.runJob)
	return s
}

// Start launches the background workers. Workers stop accepting new tasks
// when ctx is cancelled; in-flight jobs run to completion.
func (s *Service) Start(ctx context.Context) {
	s.runner.Start(ctx, s.cfg.Workers)
}

// Wait blocks until all workers have exited.
func (s *Service) Wait() {
	s.runner.Wait()
}

// TriggerAnalysis creates a queued job for the dataset and dispatches it.
// Returns the job immediately; callers poll GetJob for the outcome. Dynamic
// parameters are normalized here (cluster count defaults, bounds); attribute
// resolution happens inside the pipeline so a bad feature list surfaces as a
// failed job, mirroring every other pipeline error.
func (s *Service) TriggerAnalysis(ctx context.Context, tenantID, datasetID uuid.UUID, mode string, features []string, clusters int) (*models.AnalysisJob, error) {
	if mode != models.AnalysisModeStatic && mode != models.AnalysisModeDynamic {
		return nil, fmt.Errorf("unknown analysis mode %q", mode)
	}

	if mode == models.AnalysisModeDynamic {
		if clusters == 0 {
			clusters = s.cfg.DefaultClusters
		}
		if clusters < 1 || clusters > s.cfg.MaxClusters {
			return nil, fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidClusterCount, clusters, s.cfg.MaxClusters)
		}
	}

	exists, err := s.store.DatasetExists(ctx, datasetID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("checking dataset: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetID)
	}

	job := &models.AnalysisJob{
		ID:        uuid.New(),
		TenantID:  tenantID,
		DatasetID: datasetID,
		Mode:      mode,
		Status:    models.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAnalysisJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, models.JobStatusQueued, s.cfg.JobStatusTTL)

	s.runner.Submit(Task{
		JobID:        job.ID,
		TenantID:     tenantID,
		DatasetID:    datasetID,
		Mode:         mode,
		Features:     features,
		ClusterCount: clusters,
	})

	return job, nil
}

// GetJob returns the job record for polling.
func (s *Service) GetJob(ctx context.Context, tenantID, id uuid.UUID) (*models.AnalysisJob, error) {
	job, err := s.store.GetAnalysisJob(ctx, id, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// PredictLive scores a single (income, spending score) pair against the
// pre-trained model. Synchronous; no job, no persistence.
func (s *Service) PredictLive(income, spendingScore float64) (int, error) {
	if !s.model.Available() {
		return 0, ErrModelUnavailable
	}
	cluster, err := s.model.PredictOne([]float64{income, spendingScore})
	if err != nil {
		return 0, err
	}
	metrics.IncLivePrediction()
	return cluster, nil
}

// ModelAvailable reports whether the fixed model is loaded.
func (s *Service) ModelAvailable() bool {
	return s.model.Available()
}

// pipelineResult is what a successful pipeline run hands back for the
// results payload.
type pipelineResult struct {
	Records      int
	Distribution map[int]int
	Features     []string
	ClusterCount int
	Centroids    [][]float64
}

// runJob executes one dispatched task. It recovers from panics and always
// tries to leave the job in a terminal state; pipeline errors never escape.
func (s *Service) runJob(task Task) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in analysis job", "error", r, "job_id", task.JobID)
			s.markFailed(ctx, task, fmt.Sprintf("panic: %v", r))
		}
	}()

	// Defensive: the job record may have vanished between creation and
	// execution. Abort without writing further state.
	if _, err := s.store.GetAnalysisJob(ctx, task.JobID, task.TenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Error("job record missing at execution time", "job_id", task.JobID)
		} else {
			slog.Error("fetching job before execution", "error", err, "job_id", task.JobID)
		}
		return
	}

	if err := s.store.UpdateAnalysisJobStatus(ctx, task.JobID, models.JobStatusRunning); err != nil {
		slog.Error("marking job running", "error", err, "job_id", task.JobID)
		return
	}
	_ = s.cache.SetJobStatus(ctx, task.JobID, models.JobStatusRunning, s.cfg.JobStatusTTL)

	metrics.IncJobStarted(task.Mode)
	start := time.Now()
	slog.Info("analysis job started", "job_id", task.JobID, "dataset_id", task.DatasetID, "mode", task.Mode)

	var result *pipelineResult
	var err error
	switch task.Mode {
	case models.AnalysisModeStatic:
		result, err = s.runStatic(ctx, task.DatasetID)
	case models.AnalysisModeDynamic:
		result, err = s.runDynamic(ctx, task)
	default:
		err = fmt.Errorf("unknown analysis mode %q", task.Mode)
	}

	if err != nil {
		slog.Warn("analysis job failed", "error", err, "job_id", task.JobID, "mode", task.Mode)
		s.markFailed(ctx, task, err.Error())
		metrics.IncJobFailed(task.Mode)
		return
	}

	results := &models.JobResults{
		Summary:               fmt.Sprintf("Segmentation analysis complete for dataset %s.", task.DatasetID),
		TotalRecordsProcessed: result.Records,
		ClusterDistribution:   result.Distribution,
	}
	if task.Mode == models.AnalysisModeDynamic {
		results.Features = result.Features
		results.ClusterCount = result.ClusterCount
	}

	if err := s.store.UpdateAnalysisJobStatus(ctx, task.JobID, models.JobStatusCompleted,
		store.WithResults(results)); err != nil {
		// The one unrecoverable condition: the terminal write failed and the
		// job may stay running forever. Log loudly and move on.
		slog.Error("persisting completed job", "error", err, "job_id", task.JobID)
		return
	}
	_ = s.cache.SetJobStatus(ctx, task.JobID, models.JobStatusCompleted, s.cfg.JobStatusTTL)

	metrics.IncJobCompleted(task.Mode)
	metrics.ObserveJobDuration(task.Mode, time.Since(start).Seconds())
	slog.Info("analysis job completed", "job_id", task.JobID,
		"records", result.Records, "duration_ms", time.Since(start).Milliseconds())
}

// markFailed writes the failed terminal state with an error payload.
func (s *Service) markFailed(ctx context.Context, task Task, message string) {
	results := &models.JobResults{Error: message}
	if task.Mode == models.AnalysisModeDynamic {
		results.FeaturesAttempted = task.Features
	}
	if err := s.store.UpdateAnalysisJobStatus(ctx, task.JobID, models.JobStatusFailed,
		store.WithResults(results)); err != nil {
		slog.Error("persisting failed job", "error", err, "job_id", task.JobID)
		return
	}
	_ = s.cache.SetJobStatus(ctx, task.JobID, models.JobStatusFailed, s.cfg.JobStatusTTL)
}

// runStatic applies the pre-trained model to the two canonical attributes
// for every record in the dataset.
func (s *Service) runStatic(ctx context.Context, datasetID uuid.UUID) (*pipelineResult, error) {
	records, err := s.store.ListCustomerRecords(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("fetching customer records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}
	if !s.model.Available() {
		return nil, ErrModelUnavailable
	}

	rows := make([][]float64, len(records))
	for i, r := range records {
		row := make([]float64, len(staticAttributes))
		for j, a := range staticAttributes {
			row[j] = a.NumericValue(r)
		}
		rows[i] = row
	}

	scaled, err := s.model.Transform(rows)
	if err != nil {
		return nil, fmt.Errorf("scaling features: %w", err)
	}
	labels, err := s.model.Predict(scaled)
	if err != nil {
		return nil, fmt.Errorf("predicting clusters: %w", err)
	}

	if err := s.writeLabels(ctx, records, labels); err != nil {
		return nil, err
	}

	return &pipelineResult{
		Records:      len(records),
		Distribution: distribution(labels),
	}, nil
}

// runDynamic fits a fresh k-means pass over the requested attribute subset.
func (s *Service) runDynamic(ctx context.Context, task Task) (*pipelineResult, error) {
	records, err := s.store.ListCustomerRecords(ctx, task.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("fetching customer records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	attrs, err := ResolveAttributes(task.Features)
	if err != nil {
		return nil, err
	}

	matrix, err := BuildFeatureMatrix(records, attrs)
	if err != nil {
		return nil, fmt.Errorf("building feature matrix: %w", err)
	}

	labels, centroids, err := KMeans(matrix, task.ClusterCount, s.cfg.Seed, s.cfg.MaxIterations)
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}

	if err := s.writeLabels(ctx, records, labels); err != nil {
		return nil, err
	}

	return &pipelineResult{
		Records:      len(records),
		Distribution: distribution(labels),
		Features:     DisplayNames(attrs),
		ClusterCount: task.ClusterCount,
		Centroids:    centroids,
	}, nil
}

// writeLabels commits one cluster label per record in a single transaction.
func (s *Service) writeLabels(ctx context.Context, records []*models.CustomerRecord, labels []int) error {
	byID := make(map[uuid.UUID]int, len(records))
	for i, r := range records {
		byID[r.ID] = labels[i]
	}
	if err := s.store.BulkUpdateClusterLabels(ctx, byID); err != nil {
		return fmt.Errorf("saving cluster labels: %w", err)
	}
	return nil
}

func distribution(labels []int) map[int]int {
	dist := make(map[int]int)
	for _, l := range labels {
		dist[l]++
	}
	return dist
}

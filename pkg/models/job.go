package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const (
	AnalysisModeStatic  = "static"
	AnalysisModeDynamic = "dynamic"
)

// AnalysisJob tracks one asynchronous segmentation run. The API returns the
// job on POST .../analysis; the client polls GET /api/v1/analysis-jobs/{id}
// until status is completed or failed.
//
// Status only moves forward: queued -> running -> completed|failed.
// Results and FinishedAt are nil until a terminal status is reached.
type AnalysisJob struct {
	ID         uuid.UUID   `db:"id"          json:"id"`
	TenantID   uuid.UUID   `db:"tenant_id"   json:"tenant_id"`
	DatasetID  uuid.UUID   `db:"dataset_id"  json:"dataset_id"`
	Mode       string      `db:"mode"        json:"mode"`
	Status     string      `db:"status"      json:"status"`
	Results    *JobResults `db:"results"     json:"results,omitempty"`
	StartedAt  *time.Time  `db:"started_at"  json:"started_at,omitempty"`
	FinishedAt *time.Time  `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time   `db:"created_at"  json:"created_at"`
}

// JobResults is the results payload stored as JSONB on terminal jobs.
// Completed jobs carry Summary, TotalRecordsProcessed and ClusterDistribution
// (plus Features and ClusterCount for dynamic runs); failed jobs carry Error
// and, for dynamic runs, FeaturesAttempted.
type JobResults struct {
	Summary               string      `json:"summary,omitempty"`
	TotalRecordsProcessed int         `json:"total_records_processed,omitempty"`
	ClusterDistribution   map[int]int `json:"cluster_distribution,omitempty"`
	Features              []string    `json:"features,omitempty"`
	ClusterCount          int         `json:"cluster_count,omitempty"`
	Error                 string      `json:"error,omitempty"`
	FeaturesAttempted     []string    `json:"features_attempted,omitempty"`
}

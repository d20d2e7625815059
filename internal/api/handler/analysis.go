package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/segmenta/segmenta/internal/api/middleware"
	"github.com/segmenta/segmenta/internal/api/response"
	"github.com/segmenta/segmenta/internal/segmentation"
	"github.com/segmenta/segmenta/pkg/models"
)

// AnalysisService defines the interface the analysis handlers depend on.
type AnalysisService interface {
	TriggerAnalysis(ctx context.Context, tenantID, datasetID uuid.UUID, mode string, features []string, clusters int) (*models.AnalysisJob, error)
	GetJob(ctx context.Context, tenantID, id uuid.UUID) (*models.AnalysisJob, error)
	PredictLive(income, spendingScore float64) (int, error)
}

// NewRunAnalysisHandler returns an http.HandlerFunc for
// POST /api/v1/datasets/{datasetID}/analysis. It creates and dispatches a
// segmentation job and answers 202 with the queued job; clients poll the
// job endpoint for the outcome.
func NewRunAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		datasetID, err := uuid.Parse(chi.URLParam(r, "datasetID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "datasetID must be a valid UUID", nil)
			return
		}

		var req struct {
			Mode     string   `json:"mode"`
			Features []string `json:"features"`
			Clusters int      `json:"clusters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		mode := req.Mode
		if mode == "" {
			mode = models.AnalysisModeStatic
		}
		if mode != models.AnalysisModeStatic && mode != models.AnalysisModeDynamic {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"mode must be either static or dynamic", nil)
			return
		}
		if mode == models.AnalysisModeDynamic && len(req.Features) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"features is required for dynamic analysis", nil)
			return
		}
		if req.Clusters < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"clusters must be a positive integer", nil)
			return
		}

		job, err := svc.TriggerAnalysis(r.Context(), tenantID, datasetID, mode, req.Features, req.Clusters)
		if err != nil {
			switch {
			case errors.Is(err, segmentation.ErrDatasetNotFound):
				response.Error(w, http.StatusNotFound, "DATASET_NOT_FOUND",
					"No dataset exists with the given id", nil)
			case errors.Is(err, segmentation.ErrInvalidClusterCount):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, job)
	}
}

// NewPollJobHandler returns an http.HandlerFunc for
// GET /api/v1/analysis-jobs/{jobID}.
func NewPollJobHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := svc.GetJob(r.Context(), tenantID, jobID)
		if err != nil {
			if errors.Is(err, segmentation.ErrJobNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
					"No analysis job exists with the given id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewPredictHandler returns an http.HandlerFunc for POST /api/v1/predict:
// synchronous single-customer segment prediction against the fixed model.
func NewPredictHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AnnualIncome  *float64 `json:"annual_income"`
			SpendingScore *float64 `json:"spending_score"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.AnnualIncome == nil || req.SpendingScore == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"annual_income and spending_score are required", nil)
			return
		}

		cluster, err := svc.PredictLive(*req.AnnualIncome, *req.SpendingScore)
		if err != nil {
			if errors.Is(err, segmentation.ErrModelUnavailable) {
				response.Error(w, http.StatusServiceUnavailable, "MODEL_UNAVAILABLE",
					"The segmentation model is not loaded", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]any{
			"cluster_id": cluster,
		})
	}
}

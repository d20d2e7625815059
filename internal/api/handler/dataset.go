package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/segmenta/segmenta/internal/api/middleware"
	"github.com/segmenta/segmenta/internal/api/response"
	"github.com/segmenta/segmenta/pkg/models"
)

const maxUploadBytes = 32 << 20 // 32 MiB

// DatasetStore is the storage interface the dataset handler depends on.
type DatasetStore interface {
	CreateDataset(ctx context.Context, dataset *models.Dataset) error
	BulkInsertCustomerRecords(ctx context.Context, records []*models.CustomerRecord) error
}

// Expected CSV headers, matching the canonical mall-customers export format.
const (
	headerCustomerID    = "CustomerID"
	headerGender        = "Gender"
	headerAge           = "Age"
	headerAnnualIncome  = "Annual Income (k$)"
	headerSpendingScore = "Spending Score (1-100)"
)

// NewUploadDatasetHandler returns an http.HandlerFunc for
// POST /api/v1/datasets. It accepts a multipart CSV upload, creates the
// dataset and bulk-inserts its customer rows.
func NewUploadDatasetHandler(st DatasetStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Request must be multipart/form-data with a file field", nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file is required", nil)
			return
		}
		defer file.Close()

		dataset := &models.Dataset{
			ID:        uuid.New(),
			TenantID:  tenantID,
			FileName:  header.Filename,
			CreatedAt: time.Now().UTC(),
		}
		if desc := r.FormValue("description"); desc != "" {
			dataset.Description = &desc
		}

		records, err := parseCustomerCSV(file, dataset.ID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_CSV",
				fmt.Sprintf("Failed to process CSV file: %v", err), nil)
			return
		}

		if err := st.CreateDataset(r.Context(), dataset); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create dataset", nil)
			return
		}
		if err := st.BulkInsertCustomerRecords(r.Context(), records); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to store customer records", nil)
			return
		}

		response.Created(w, map[string]any{
			"dataset":      dataset,
			"record_count": len(records),
		})
	}
}

// parseCustomerCSV reads the whole upload into customer records. The header
// row must carry the four attribute columns; CustomerID is optional.
func parseCustomerCSV(r io.Reader, datasetID uuid.UUID) ([]*models.CustomerRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{headerGender, headerAge, headerAnnualIncome, headerSpendingScore} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	customerIDCol, hasCustomerID := cols[headerCustomerID]

	now := time.Now().UTC()
	var records []*models.CustomerRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rec := &models.CustomerRecord{
			ID:        uuid.New(),
			DatasetID: datasetID,
			Gender:    strings.TrimSpace(row[cols[headerGender]]),
			CreatedAt: now,
		}
		if hasCustomerID {
			if rec.OriginalCustomerID, err = strconv.Atoi(strings.TrimSpace(row[customerIDCol])); err != nil {
				return nil, fmt.Errorf("line %d: invalid %s: %w", line, headerCustomerID, err)
			}
		}
		if rec.Age, err = strconv.Atoi(strings.TrimSpace(row[cols[headerAge]])); err != nil {
			return nil, fmt.Errorf("line %d: invalid %s: %w", line, headerAge, err)
		}
		if rec.AnnualIncome, err = strconv.Atoi(strings.TrimSpace(row[cols[headerAnnualIncome]])); err != nil {
			return nil, fmt.Errorf("line %d: invalid %s: %w", line, headerAnnualIncome, err)
		}
		if rec.SpendingScore, err = strconv.Atoi(strings.TrimSpace(row[cols[headerSpendingScore]])); err != nil {
			return nil, fmt.Errorf("line %d: invalid %s: %w", line, headerSpendingScore, err)
		}

		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return records, nil
}

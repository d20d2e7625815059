package models

import (
	"time"

	"github.com/google/uuid"
)

// CustomerRecord is one customer row within a dataset. ClusterLabel is nil
// until a segmentation run assigns it; any later run that touches the same
// record overwrites the label unconditionally.
type CustomerRecord struct {
	ID                 uuid.UUID `db:"id"                   json:"id"`
	DatasetID          uuid.UUID `db:"dataset_id"           json:"dataset_id"`
	OriginalCustomerID int       `db:"original_customer_id" json:"original_customer_id"`
	Gender             string    `db:"gender"               json:"gender"`
	Age                int       `db:"age"                  json:"age"`
	AnnualIncome       int       `db:"annual_income"        json:"annual_income"`
	SpendingScore      int       `db:"spending_score"       json:"spending_score"`
	ClusterLabel       *int      `db:"cluster_label"        json:"cluster_label,omitempty"`
	CreatedAt          time.Time `db:"created_at"           json:"created_at"`
}

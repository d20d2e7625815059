package models

import (
	"time"

	"github.com/google/uuid"
)

// Dataset identifies one uploaded batch of customer rows. Immutable once
// created; customer records belong to exactly one dataset.
type Dataset struct {
	ID          uuid.UUID `db:"id"          json:"id"`
	TenantID    uuid.UUID `db:"tenant_id"   json:"tenant_id"`
	FileName    string    `db:"file_name"   json:"file_name"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RequestType enumerates supported document request categories.
type RequestType string

const (
	RequestTypeTranscript RequestType = "TRANSCRIPT"
	RequestTypeCOR        RequestType = "CERTIFICATE_OF_REGISTRATION"
	RequestTypeGoodMoral  RequestType = "GOOD_MORAL"
	RequestTypeDiploma    RequestType = "DIPLOMA"
	RequestTypeOther      RequestType = "OTHER"
)

// RequestStatus captures the lifecycle of a document request.
type RequestStatus string

const (
	RequestStatusPending        RequestStatus = "pending"
	RequestStatusProcessing     RequestStatus = "processing"
	RequestStatusReadyForPickup RequestStatus = "ready_for_pickup"
	RequestStatusCompleted      RequestStatus = "completed"
	RequestStatusRejected       RequestStatus = "rejected"
)

// ValidRequestStatus reports whether the value is a defined request status.
func ValidRequestStatus(s RequestStatus) bool {
	switch s {
	case RequestStatusPending, RequestStatusProcessing, RequestStatusReadyForPickup,
		RequestStatusCompleted, RequestStatusRejected:
		return true
	}
	return false
}

// DocumentRef points at one stored upload; order in the slice is the
// index staff use to fetch "document N of request R".
type DocumentRef struct {
	StoredName   string `json:"stored_name"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
}

// DocumentRefs stores the ordered upload list as a JSONB column.
type DocumentRefs []DocumentRef

// Value implements driver.Valuer.
func (d DocumentRefs) Value() (driver.Value, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner.
func (d *DocumentRefs) Scan(src interface{}) error {
	if src == nil {
		*d = nil
		return nil
	}
	switch raw := src.(type) {
	case []byte:
		return json.Unmarshal(raw, d)
	case string:
		return json.Unmarshal([]byte(raw), d)
	default:
		return fmt.Errorf("unsupported type %T for document refs", src)
	}
}

// Request is a student's document request with supporting uploads.
type Request struct {
	ID        string        `db:"id" json:"id"`
	StudentID string        `db:"student_id" json:"student_id"`
	Type      RequestType   `db:"request_type" json:"request_type"`
	Purpose   string        `db:"purpose" json:"purpose"`
	Documents DocumentRefs  `db:"documents" json:"documents"`
	Status    RequestStatus `db:"status" json:"status"`
	HandledBy *string       `db:"handled_by" json:"handled_by,omitempty"`
	Remarks   *string       `db:"remarks" json:"remarks,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// RequestFilter narrows request listings.
type RequestFilter struct {
	StudentID string
	Status    RequestStatus
	Type      RequestType
	Page      int
	PageSize  int
}

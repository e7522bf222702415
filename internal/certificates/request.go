package certificates

import (
	"fmt"
	"strings"
	"time"

	"github.com/dhyanmanav/GAT-CMS-2/internal/apperr"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseDecision accepts the statuses an admin may set on a request.
func ParseDecision(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", apperr.Validationf("invalid_status", "Status must be %q or %q", StatusApproved, StatusRejected)
	}
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type Request struct {
	ID                string     `json:"id"`
	StudentID         string     `json:"studentId"`
	StudentName       string     `json:"studentName"`
	USN               string     `json:"usn"`
	FatherName        string     `json:"fatherName"`
	Semester          string     `json:"semester"`
	Year              string     `json:"year"`
	Department        string     `json:"department"`
	Purpose           string     `json:"purpose"`
	Status            Status     `json:"status"`
	CertificateNumber string     `json:"certificateNumber,omitempty"`
	ApprovedDate      *time.Time `json:"approvedDate,omitempty"`
	RejectionReason   string     `json:"rejectionReason,omitempty"`
	ReviewedBy        string     `json:"reviewedBy,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Fields are the request details a student fills in.
type Fields struct {
	StudentName string `json:"studentName"`
	USN         string `json:"usn"`
	FatherName  string `json:"fatherName"`
	Semester    string `json:"semester"`
	Year        string `json:"year"`
	Department  string `json:"department"`
	Purpose     string `json:"purpose"`
}

const requestKeyPrefix = "cert_request:"

func requestKey(id string) string {
	return requestKeyPrefix + id
}

func requestID(millis int64, studentID string) string {
	return fmt.Sprintf("%d_%s", millis, studentID)
}

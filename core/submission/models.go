package submission

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusGraded    Status = "graded"
)

type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

type Submission struct {
	ID           string          `json:"id"`
	AssignmentID string          `json:"assignmentId"`
	StudentID    string          `json:"studentId"`
	Status       Status          `json:"status"`
	WorkData     json.RawMessage `json:"workData,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"` // UTC
	UpdatedAt    time.Time       `json:"updatedAt"` // UTC
}

// Progress tracks a student's attempt at an assignment, one per (student, assignment).
type Progress struct {
	ID           string         `json:"id"`
	StudentID    string         `json:"studentId"`
	AssignmentID string         `json:"assignmentId"`
	Status       ProgressStatus `json:"status"`
	StartedAt    time.Time      `json:"startedAt"` // UTC
	TimeSpent    int            `json:"timeSpent"` // seconds
}

type QueryFilter struct {
	StudentID    string
	AssignmentID string
}

package submission

import (
	"context"

	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core"
)

var (
	// errors
	ErrNotFound         = errors.New("submission not found")
	ErrProgressNotFound = errors.New("progress not found")
	ErrProgressExists   = errors.New("progress already recorded for this assignment")
)

type (
	Repository interface {
		CreateSubmission(ctx context.Context, sub Submission, exec ...core.DBExecutor) (Submission, error)
		QuerySubmissions(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Submission, error)
		// CreateProgress returns ErrProgressExists for a second record of the same (student, assignment).
		CreateProgress(ctx context.Context, p Progress, exec ...core.DBExecutor) (Progress, error)
		// GetProgress returns ErrProgressNotFound.
		GetProgress(ctx context.Context, studentID, assignmentID string) (Progress, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) QueryByStudent(ctx context.Context, studentID string, ordering ...core.DBOrdering) ([]Submission, error) {
	return svc.repo.QuerySubmissions(ctx, QueryFilter{StudentID: studentID}, ordering...)
}

func (svc *Service) GetProgress(ctx context.Context, studentID, assignmentID string) (Progress, error) {
	return svc.repo.GetProgress(ctx, studentID, assignmentID)
}

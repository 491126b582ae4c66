package inmemdb

import (
	"context"
	"sort"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/submission"
)

type SubmissionRepository struct {
	db *DB
}

var _ submission.Repository = (*SubmissionRepository)(nil)

func NewSubmissionRepository(db *DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (repo *SubmissionRepository) CreateSubmission(_ context.Context, sub submission.Submission, _ ...core.DBExecutor) (submission.Submission, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	repo.db.submissions[sub.ID] = sub
	return sub, nil
}

func (repo *SubmissionRepository) QuerySubmissions(_ context.Context, filter submission.QueryFilter, ordering ...core.DBOrdering) ([]submission.Submission, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	subs := make([]submission.Submission, 0)
	for _, sub := range repo.db.submissions {
		if filter.StudentID != "" && sub.StudentID != filter.StudentID {
			continue
		}
		if filter.AssignmentID != "" && sub.AssignmentID != filter.AssignmentID {
			continue
		}
		subs = append(subs, sub)
	}

	var asc bool
	if len(ordering) > 0 {
		asc = ordering[0].Ascending
	}
	sort.SliceStable(subs, func(i, j int) bool {
		if asc {
			return subs[i].CreatedAt.Before(subs[j].CreatedAt)
		}
		return subs[j].CreatedAt.Before(subs[i].CreatedAt)
	})
	return subs, nil
}

func (repo *SubmissionRepository) CreateProgress(_ context.Context, p submission.Progress, _ ...core.DBExecutor) (submission.Progress, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, other := range repo.db.progress {
		if other.StudentID == p.StudentID && other.AssignmentID == p.AssignmentID {
			return submission.Progress{}, submission.ErrProgressExists
		}
	}
	repo.db.progress[p.ID] = p
	return p, nil
}

func (repo *SubmissionRepository) GetProgress(_ context.Context, studentID, assignmentID string) (submission.Progress, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, p := range repo.db.progress {
		if p.StudentID == studentID && p.AssignmentID == assignmentID {
			return p, nil
		}
	}
	return submission.Progress{}, submission.ErrProgressNotFound
}

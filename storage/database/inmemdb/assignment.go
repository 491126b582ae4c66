package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/assignment"
)

type AssignmentRepository struct {
	db *DB
}

var _ assignment.Repository = (*AssignmentRepository)(nil)

func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// classWithTeacher must be called with the lock held.
func (repo *AssignmentRepository) classWithTeacher(cls assignment.Class) assignment.Class {
	if teacher, ok := repo.db.users[cls.TeacherID]; ok {
		cls.TeacherName = teacher.Name
	}
	return cls
}

func (repo *AssignmentRepository) CreateClass(_ context.Context, cls assignment.Class) (assignment.Class, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	cls.TeacherName = ""
	repo.db.classes[cls.ID] = cls
	return repo.classWithTeacher(cls), nil
}

func (repo *AssignmentRepository) GetClass(_ context.Context, id string, _ ...core.DBExecutor) (assignment.Class, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	cls, ok := repo.db.classes[id]
	if !ok {
		return assignment.Class{}, assignment.ErrClassNotFound
	}
	return repo.classWithTeacher(cls), nil
}

func (repo *AssignmentRepository) CreateAssignment(_ context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, other := range repo.db.assignments {
		if other.Code == a.Code {
			return assignment.Assignment{}, assignment.ErrCodeExists
		}
	}
	if a.Resources == nil {
		a.Resources = []assignment.Resource{}
	}
	repo.db.assignments[a.ID] = a
	return a, nil
}

func (repo *AssignmentRepository) GetAssignment(_ context.Context, filter assignment.GetFilter, _ ...core.DBExecutor) (assignment.Assignment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	switch {
	case filter.ID != "":
		if a, ok := repo.db.assignments[filter.ID]; ok {
			return a, nil
		}
	case filter.Code != "":
		for _, a := range repo.db.assignments {
			if a.Code == filter.Code {
				return a, nil
			}
		}
	}
	return assignment.Assignment{}, assignment.ErrNotFound
}

func (repo *AssignmentRepository) QueryAssignments(_ context.Context, filter assignment.QueryFilter, ordering ...core.DBOrdering) ([]assignment.Assignment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	assignments := make([]assignment.Assignment, 0)
	for _, a := range repo.db.assignments {
		if filter.ClassID != "" && a.ClassID != filter.ClassID {
			continue
		}
		if filter.TeacherID != "" && repo.db.classes[a.ClassID].TeacherID != filter.TeacherID {
			continue
		}
		assignments = append(assignments, a)
	}

	ord := core.DBOrdering{Field: "createdAt"}
	if len(ordering) > 0 {
		ord = ordering[0]
	}
	less := func(i, j int) bool {
		a, b := assignments[i], assignments[j]
		switch ord.Field {
		case "title":
			return a.Title < b.Title
		case "code":
			return a.Code < b.Code
		case "dueDate":
			return dueBefore(a.DueDate, b.DueDate)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(assignments, func(i, j int) bool {
		if ord.Ascending {
			return less(i, j)
		}
		return less(j, i)
	})
	return assignments, nil
}

// dueBefore sorts assignments without a due date last.
func dueBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	}
	return a.Before(*b)
}

func (repo *AssignmentRepository) Enroll(_ context.Context, classID, studentID string, _ time.Time, _ ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.classes[classID]; !ok {
		return assignment.ErrClassNotFound
	}
	repo.db.enrollments[enrollmentKey{classID, studentID}] = struct{}{}
	return nil
}

package assignment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core"
)

var (
	// errors
	ErrNotFound      = errors.New("assignment not found")
	ErrClassNotFound = errors.New("class not found")
	ErrCodeExists    = errors.New("an assignment with this code already exists")
	ErrNotOwner      = errors.New("class belongs to another teacher")

	NowFunc = time.Now // mockable

	maxCodeAttempts = 5
)

type (
	Repository interface {
		CreateClass(ctx context.Context, cls Class) (Class, error)
		// GetClass returns ErrClassNotFound; TeacherName is filled.
		GetClass(ctx context.Context, id string, exec ...core.DBExecutor) (Class, error)
		// CreateAssignment returns ErrCodeExists when the code is taken.
		CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
		GetAssignment(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Assignment, error)
		QueryAssignments(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Assignment, error)
		// Enroll adds the student to the class; enrolling twice is not an error.
		Enroll(ctx context.Context, classID, studentID string, at time.Time, exec ...core.DBExecutor) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// LookupByCode resolves a published assignment from its access code (case-insensitive).
func (svc *Service) LookupByCode(ctx context.Context, code string) (Public, error) {
	code = core.CleanCode(code)
	if code == "" {
		return Public{}, ErrNotFound
	}
	a, err := svc.repo.GetAssignment(ctx, GetFilter{Code: code})
	if err != nil {
		return Public{}, err
	}
	if !a.IsPublished {
		return Public{}, ErrNotFound
	}
	cls, err := svc.repo.GetClass(ctx, a.ClassID)
	if err != nil {
		return Public{}, errors.Wrap(err, "getting assignment class")
	}
	return a.ToPublic(cls), nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Assignment, error) {
	return svc.repo.GetAssignment(ctx, GetFilter{ID: id})
}

func (svc *Service) GetClass(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClass(ctx, id)
}

func (svc *Service) CreateClass(ctx context.Context, teacherID string, nc NewClass) (Class, error) {
	return svc.repo.CreateClass(ctx, Class{
		ID:        uuid.New().String(),
		Name:      nc.Name,
		TeacherID: teacherID,
		CreatedAt: NowFunc().UTC(),
	})
}

// CreateAssignment adds an assignment to one of the teacher's classes.
// A code is generated when none is given; generated codes are retried on collision.
func (svc *Service) CreateAssignment(ctx context.Context, teacherID, classID string, na NewAssignment) (Assignment, error) {
	cls, err := svc.repo.GetClass(ctx, classID)
	if err != nil {
		return Assignment{}, err
	}
	if cls.TeacherID != teacherID {
		return Assignment{}, ErrNotOwner
	}

	isPublished := true
	if na.IsPublished != nil {
		isPublished = *na.IsPublished
	}
	a := Assignment{
		ID:           uuid.New().String(),
		ClassID:      cls.ID,
		Title:        na.Title,
		Description:  na.Description,
		Type:         na.Type,
		Instructions: na.Instructions,
		CanvasData:   na.CanvasData,
		CanvasWidth:  na.CanvasWidth,
		CanvasHeight: na.CanvasHeight,
		DueDate:      na.DueDate,
		MaxScore:     na.MaxScore,
		Resources:    na.Resources,
		IsPublished:  isPublished,
		CreatedAt:    NowFunc().UTC(),
	}

	if na.Code != "" {
		a.Code = na.Code
		a, err = svc.repo.CreateAssignment(ctx, a)
		if errors.Cause(err) == ErrCodeExists {
			return Assignment{}, core.NewValidationError(ErrCodeExists, core.FieldError{Field: "code", Error: ErrCodeExists.Error()})
		}
		return a, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if a.Code, err = GenerateCode(); err != nil {
			return Assignment{}, errors.Wrap(err, "generating code")
		}
		created, err := svc.repo.CreateAssignment(ctx, a)
		if errors.Cause(err) == ErrCodeExists {
			continue
		}
		return created, err
	}
	return Assignment{}, errors.Wrapf(ErrCodeExists, "after %d attempts", maxCodeAttempts)
}

func (svc *Service) QueryByTeacher(ctx context.Context, teacherID string, ordering ...core.DBOrdering) ([]Assignment, error) {
	return svc.repo.QueryAssignments(ctx, QueryFilter{TeacherID: teacherID}, ordering...)
}

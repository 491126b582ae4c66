package assignment

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/writeonenglish/woe/core"
)

type Type string

const (
	TypeDrawing Type = "drawing"
	TypeWriting Type = "writing"
	TypeMixed   Type = "mixed"

	DefaultCanvasWidth  = 800
	DefaultCanvasHeight = 600
)

type Resource struct {
	Title string `json:"title" validate:"required,notblank"`
	URL   string `json:"url" validate:"required,url"`
}

type Class struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TeacherID   string    `json:"teacherId"`
	TeacherName string    `json:"teacherName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"` // UTC
}

type Assignment struct {
	ID           string          `json:"id"`
	ClassID      string          `json:"classId"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Type         Type            `json:"type"`
	Instructions string          `json:"instructions"`
	CanvasData   json.RawMessage `json:"canvasData,omitempty"`
	CanvasWidth  int             `json:"canvasWidth"`
	CanvasHeight int             `json:"canvasHeight"`
	DueDate      *time.Time      `json:"dueDate"`
	MaxScore     *int            `json:"maxScore"`
	Resources    []Resource      `json:"resources"`
	Code         string          `json:"code"`
	IsPublished  bool            `json:"isPublished"`
	CreatedAt    time.Time       `json:"createdAt"` // UTC
}

// Public is what a guest gets back when resolving an access code.
type Public struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Type         Type            `json:"type"`
	Instructions string          `json:"instructions"`
	CanvasData   json.RawMessage `json:"canvasData,omitempty"`
	CanvasWidth  int             `json:"canvasWidth"`
	CanvasHeight int             `json:"canvasHeight"`
	DueDate      *time.Time      `json:"dueDate"`
	MaxScore     *int            `json:"maxScore"`
	Resources    []Resource      `json:"resources"`
	Class        PublicClass     `json:"class"`
}

type PublicClass struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Teacher PublicTeacher `json:"teacher"`
}

type PublicTeacher struct {
	Name string `json:"name"`
}

// ToPublic strips everything a guest should not see (code, publication state...).
func (a Assignment) ToPublic(cls Class) Public {
	resources := a.Resources
	if resources == nil {
		resources = []Resource{}
	}
	return Public{
		ID:           a.ID,
		Title:        a.Title,
		Description:  a.Description,
		Type:         a.Type,
		Instructions: a.Instructions,
		CanvasData:   a.CanvasData,
		CanvasWidth:  a.CanvasWidth,
		CanvasHeight: a.CanvasHeight,
		DueDate:      a.DueDate,
		MaxScore:     a.MaxScore,
		Resources:    resources,
		Class: PublicClass{
			ID:      cls.ID,
			Name:    cls.Name,
			Teacher: PublicTeacher{Name: cls.TeacherName},
		},
	}
}

type NewClass struct {
	Name string `json:"name" validate:"required,notblank,max=255"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	return validate.Struct(nc)
}

// NewAssignment contains information needed to create a new Assignment.
// Code is optional; one is generated when empty.
type NewAssignment struct {
	Title        string          `json:"title" validate:"required,notblank,max=255"`
	Description  string          `json:"description"`
	Type         Type            `json:"type" validate:"required,oneof=drawing writing mixed"`
	Instructions string          `json:"instructions"`
	CanvasData   json.RawMessage `json:"canvasData"`
	CanvasWidth  int             `json:"canvasWidth" validate:"omitempty,min=100,max=4000"`
	CanvasHeight int             `json:"canvasHeight" validate:"omitempty,min=100,max=4000"`
	DueDate      *time.Time      `json:"dueDate"`
	MaxScore     *int            `json:"maxScore" validate:"omitempty,min=0"`
	Resources    []Resource      `json:"resources" validate:"omitempty,dive"`
	Code         string          `json:"code" validate:"omitempty,min=4,max=16,alphanum"`
	IsPublished  *bool           `json:"isPublished"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	na.Instructions = core.CleanString(na.Instructions)
	na.Code = core.CleanCode(na.Code)
	if na.CanvasWidth == 0 {
		na.CanvasWidth = DefaultCanvasWidth
	}
	if na.CanvasHeight == 0 {
		na.CanvasHeight = DefaultCanvasHeight
	}
	return validate.Struct(na)
}

// GetFilter selects a single Assignment; the first non-empty field wins.
type GetFilter struct {
	ID   string
	Code string
}

type QueryFilter struct {
	TeacherID string
	ClassID   string
}

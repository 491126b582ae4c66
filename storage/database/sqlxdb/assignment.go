package sqlxdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/assignment"
)

const assignmentColumns = `a.id, a.class_id, a.title, a.description, a.type, a.instructions, a.canvas_data,
	a.canvas_width, a.canvas_height, a.due_date, a.max_score, a.resources, a.code, a.is_published, a.created_at`

var assignmentOrderings = map[string]string{
	"title":     "a.title",
	"createdAt": "a.created_at",
	"dueDate":   "a.due_date",
	"code":      "a.code",
}

type classRow struct {
	ID          string      `db:"id"`
	Name        string      `db:"name"`
	TeacherID   string      `db:"teacher_id"`
	TeacherName null.String `db:"teacher_name"`
	CreatedAt   time.Time   `db:"created_at"`
}

func (r classRow) toClass() assignment.Class {
	return assignment.Class{
		ID:          r.ID,
		Name:        r.Name,
		TeacherID:   r.TeacherID,
		TeacherName: r.TeacherName.String,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type assignmentRow struct {
	ID           string      `db:"id"`
	ClassID      string      `db:"class_id"`
	Title        string      `db:"title"`
	Description  null.String `db:"description"`
	Type         string      `db:"type"`
	Instructions null.String `db:"instructions"`
	CanvasData   null.JSON   `db:"canvas_data"`
	CanvasWidth  int         `db:"canvas_width"`
	CanvasHeight int         `db:"canvas_height"`
	DueDate      null.Time   `db:"due_date"`
	MaxScore     null.Int    `db:"max_score"`
	Resources    string      `db:"resources"`
	Code         string      `db:"code"`
	IsPublished  bool        `db:"is_published"`
	CreatedAt    time.Time   `db:"created_at"`
}

func newAssignmentRow(a assignment.Assignment) (assignmentRow, error) {
	resources := a.Resources
	if resources == nil {
		resources = []assignment.Resource{}
	}
	resJSON, err := json.Marshal(resources)
	if err != nil {
		return assignmentRow{}, errors.Wrap(err, "encoding resources")
	}
	row := assignmentRow{
		ID:           a.ID,
		ClassID:      a.ClassID,
		Title:        a.Title,
		Description:  null.NewString(a.Description, a.Description != ""),
		Type:         string(a.Type),
		Instructions: null.NewString(a.Instructions, a.Instructions != ""),
		CanvasData:   null.NewJSON(a.CanvasData, len(a.CanvasData) > 0),
		CanvasWidth:  a.CanvasWidth,
		CanvasHeight: a.CanvasHeight,
		Resources:    string(resJSON),
		Code:         a.Code,
		IsPublished:  a.IsPublished,
		CreatedAt:    a.CreatedAt.UTC(),
	}
	if a.DueDate != nil {
		row.DueDate = null.TimeFrom(a.DueDate.UTC())
	}
	if a.MaxScore != nil {
		row.MaxScore = null.IntFrom(*a.MaxScore)
	}
	return row, nil
}

func (r assignmentRow) toAssignment() (assignment.Assignment, error) {
	a := assignment.Assignment{
		ID:           r.ID,
		ClassID:      r.ClassID,
		Title:        r.Title,
		Description:  r.Description.String,
		Type:         assignment.Type(r.Type),
		Instructions: r.Instructions.String,
		CanvasWidth:  r.CanvasWidth,
		CanvasHeight: r.CanvasHeight,
		Code:         r.Code,
		IsPublished:  r.IsPublished,
		CreatedAt:    r.CreatedAt.UTC(),
		Resources:    []assignment.Resource{},
	}
	if r.CanvasData.Valid {
		a.CanvasData = json.RawMessage(r.CanvasData.JSON)
	}
	if r.DueDate.Valid {
		due := r.DueDate.Time.UTC()
		a.DueDate = &due
	}
	if r.MaxScore.Valid {
		score := r.MaxScore.Int
		a.MaxScore = &score
	}
	if len(r.Resources) > 0 {
		if err := json.Unmarshal([]byte(r.Resources), &a.Resources); err != nil {
			return assignment.Assignment{}, errors.Wrap(err, "decoding resources")
		}
	}
	return a, nil
}

type AssignmentRepository struct {
	db *sqlx.DB
}

var _ assignment.Repository = (*AssignmentRepository)(nil)

func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (repo *AssignmentRepository) CreateClass(ctx context.Context, cls assignment.Class) (assignment.Class, error) {
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO class (id, name, teacher_id, created_at) VALUES ($1, $2, $3, $4)`,
		cls.ID, cls.Name, cls.TeacherID, cls.CreatedAt.UTC(),
	)
	if err != nil {
		return assignment.Class{}, errors.Wrap(err, "creating class")
	}
	return repo.GetClass(ctx, cls.ID)
}

func (repo *AssignmentRepository) GetClass(ctx context.Context, id string, exec ...core.DBExecutor) (assignment.Class, error) {
	db := core.GetExec(repo.db, exec)
	var row classRow
	err := sqlx.GetContext(ctx, db, &row, `
		SELECT c.id, c.name, c.teacher_id, u.name AS teacher_name, c.created_at
		FROM class c LEFT JOIN "user" u ON u.id = c.teacher_id
		WHERE c.id = $1`,
		id,
	)
	if errors.Cause(err) == sql.ErrNoRows {
		return assignment.Class{}, assignment.ErrClassNotFound
	}
	if err != nil {
		return assignment.Class{}, errors.Wrap(err, "getting class")
	}
	return row.toClass(), nil
}

func (repo *AssignmentRepository) CreateAssignment(ctx context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	row, err := newAssignmentRow(a)
	if err != nil {
		return assignment.Assignment{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `
		INSERT INTO assignment (id, class_id, title, description, type, instructions, canvas_data, canvas_width,
			canvas_height, due_date, max_score, resources, code, is_published, created_at)
		VALUES (:id, :class_id, :title, :description, :type, :instructions, :canvas_data, :canvas_width,
			:canvas_height, :due_date, :max_score, :resources, :code, :is_published, :created_at)`,
		row,
	)
	if uniqueViolation(err) == "assignment_code_key" {
		return assignment.Assignment{}, assignment.ErrCodeExists
	}
	if err != nil {
		return assignment.Assignment{}, errors.Wrap(err, "creating assignment")
	}
	return row.toAssignment()
}

func (repo *AssignmentRepository) GetAssignment(ctx context.Context, filter assignment.GetFilter, exec ...core.DBExecutor) (assignment.Assignment, error) {
	db := core.GetExec(repo.db, exec)
	var (
		where string
		arg   string
	)
	switch {
	case filter.ID != "":
		where, arg = "a.id = $1", filter.ID
	case filter.Code != "":
		where, arg = "a.code = $1", filter.Code
	default:
		return assignment.Assignment{}, assignment.ErrNotFound
	}

	var row assignmentRow
	err := sqlx.GetContext(ctx, db, &row, `SELECT `+assignmentColumns+` FROM assignment a WHERE `+where, arg)
	if errors.Cause(err) == sql.ErrNoRows {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	if err != nil {
		return assignment.Assignment{}, errors.Wrap(err, "getting assignment")
	}
	return row.toAssignment()
}

func (repo *AssignmentRepository) QueryAssignments(ctx context.Context, filter assignment.QueryFilter, ordering ...core.DBOrdering) ([]assignment.Assignment, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conds = append(conds, "c.teacher_id = $1")
	}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conds = append(conds, "a.class_id = $"+strconv.Itoa(len(args)))
	}

	q := `SELECT ` + assignmentColumns + ` FROM assignment a JOIN class c ON c.id = a.class_id`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY ` + orderBy(ordering, assignmentOrderings, "a.created_at DESC")

	var rows []assignmentRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	assignments := make([]assignment.Assignment, 0, len(rows))
	for _, row := range rows {
		a, err := row.toAssignment()
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

func (repo *AssignmentRepository) Enroll(ctx context.Context, classID, studentID string, at time.Time, exec ...core.DBExecutor) error {
	db := core.GetExec(repo.db, exec)
	_, err := db.ExecContext(ctx, `
		INSERT INTO enrollment (class_id, student_id, enrolled_at) VALUES ($1, $2, $3)
		ON CONFLICT (class_id, student_id) DO NOTHING`,
		classID, studentID, at.UTC(),
	)
	return errors.Wrap(err, "enrolling student")
}

// orderBy builds an ORDER BY clause from the orderings whose field is allowed; unknown fields are dropped.
func orderBy(ordering []core.DBOrdering, allowed map[string]string, fallback string) string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		col, ok := allowed[ord.Field]
		if !ok {
			continue
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(clauses) == 0 {
		return fallback
	}
	return strings.Join(clauses, ", ")
}

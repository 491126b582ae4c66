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
	"github.com/writeonenglish/woe/core/submission"
)

var submissionOrderings = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"status":    "status",
}

type submissionRow struct {
	ID           string    `db:"id"`
	AssignmentID string    `db:"assignment_id"`
	StudentID    string    `db:"student_id"`
	Status       string    `db:"status"`
	WorkData     null.JSON `db:"work_data"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r submissionRow) toSubmission() submission.Submission {
	sub := submission.Submission{
		ID:           r.ID,
		AssignmentID: r.AssignmentID,
		StudentID:    r.StudentID,
		Status:       submission.Status(r.Status),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.WorkData.Valid {
		sub.WorkData = json.RawMessage(r.WorkData.JSON)
	}
	return sub
}

type progressRow struct {
	ID           string    `db:"id"`
	StudentID    string    `db:"student_id"`
	AssignmentID string    `db:"assignment_id"`
	Status       string    `db:"status"`
	StartedAt    time.Time `db:"started_at"`
	TimeSpent    int       `db:"time_spent"`
}

func (r progressRow) toProgress() submission.Progress {
	return submission.Progress{
		ID:           r.ID,
		StudentID:    r.StudentID,
		AssignmentID: r.AssignmentID,
		Status:       submission.ProgressStatus(r.Status),
		StartedAt:    r.StartedAt.UTC(),
		TimeSpent:    r.TimeSpent,
	}
}

type SubmissionRepository struct {
	db *sqlx.DB
}

var _ submission.Repository = (*SubmissionRepository)(nil)

func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (repo *SubmissionRepository) CreateSubmission(ctx context.Context, sub submission.Submission, exec ...core.DBExecutor) (submission.Submission, error) {
	db := core.GetExec(repo.db, exec)
	row := submissionRow{
		ID:           sub.ID,
		AssignmentID: sub.AssignmentID,
		StudentID:    sub.StudentID,
		Status:       string(sub.Status),
		WorkData:     null.NewJSON(sub.WorkData, len(sub.WorkData) > 0),
		CreatedAt:    sub.CreatedAt.UTC(),
		UpdatedAt:    sub.UpdatedAt.UTC(),
	}
	_, err := sqlx.NamedExecContext(ctx, db, `
		INSERT INTO submission (id, assignment_id, student_id, status, work_data, created_at, updated_at)
		VALUES (:id, :assignment_id, :student_id, :status, :work_data, :created_at, :updated_at)`,
		row,
	)
	if err != nil {
		return submission.Submission{}, errors.Wrap(err, "creating submission")
	}
	return row.toSubmission(), nil
}

func (repo *SubmissionRepository) QuerySubmissions(ctx context.Context, filter submission.QueryFilter, ordering ...core.DBOrdering) ([]submission.Submission, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conds = append(conds, "student_id = $"+strconv.Itoa(len(args)))
	}
	if filter.AssignmentID != "" {
		args = append(args, filter.AssignmentID)
		conds = append(conds, "assignment_id = $"+strconv.Itoa(len(args)))
	}

	q := `SELECT id, assignment_id, student_id, status, work_data, created_at, updated_at FROM submission`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY ` + orderBy(ordering, submissionOrderings, "created_at DESC")

	var rows []submissionRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]submission.Submission, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.toSubmission())
	}
	return subs, nil
}

func (repo *SubmissionRepository) CreateProgress(ctx context.Context, p submission.Progress, exec ...core.DBExecutor) (submission.Progress, error) {
	db := core.GetExec(repo.db, exec)
	row := progressRow{
		ID:           p.ID,
		StudentID:    p.StudentID,
		AssignmentID: p.AssignmentID,
		Status:       string(p.Status),
		StartedAt:    p.StartedAt.UTC(),
		TimeSpent:    p.TimeSpent,
	}
	_, err := sqlx.NamedExecContext(ctx, db, `
		INSERT INTO progress (id, student_id, assignment_id, status, started_at, time_spent)
		VALUES (:id, :student_id, :assignment_id, :status, :started_at, :time_spent)`,
		row,
	)
	if uniqueViolation(err) == "progress_student_id_assignment_id_key" {
		return submission.Progress{}, submission.ErrProgressExists
	}
	if err != nil {
		return submission.Progress{}, errors.Wrap(err, "creating progress")
	}
	return row.toProgress(), nil
}

func (repo *SubmissionRepository) GetProgress(ctx context.Context, studentID, assignmentID string) (submission.Progress, error) {
	var row progressRow
	err := repo.db.GetContext(ctx, &row, `
		SELECT id, student_id, assignment_id, status, started_at, time_spent
		FROM progress WHERE student_id = $1 AND assignment_id = $2`,
		studentID, assignmentID,
	)
	if errors.Cause(err) == sql.ErrNoRows {
		return submission.Progress{}, submission.ErrProgressNotFound
	}
	if err != nil {
		return submission.Progress{}, errors.Wrap(err, "getting progress")
	}
	return row.toProgress(), nil
}

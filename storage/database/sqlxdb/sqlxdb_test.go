package sqlxdb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/assignment"
	"github.com/writeonenglish/woe/core/submission"
	"github.com/writeonenglish/woe/core/user"
	"github.com/writeonenglish/woe/storage/database"
	"github.com/writeonenglish/woe/tests"
)

func TestOrderBy(t *testing.T) {
	tests := []struct {
		name     string
		ordering []core.DBOrdering
		want     string
	}{
		{"fallback", nil, "created_at DESC"},
		{"allowed", []core.DBOrdering{{Field: "title", Ascending: true}}, "a.title ASC"},
		{"unknown field", []core.DBOrdering{{Field: "1; DROP TABLE assignment"}}, "created_at DESC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, orderBy(tt.ordering, assignmentOrderings, "created_at DESC"))
		})
	}
}

func TestRepositories(t *testing.T) {
	db := testutil.PrepareDB(t)
	ctx := context.Background()
	users := NewUserRepository(db)
	assignments := NewAssignmentRepository(db)
	subs := NewSubmissionRepository(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	teacher := testutil.CreateUser(t, users, "Mme Kabila", "kabila", "kabila@test.cd", "secret", []string{user.RoleTeacher}, true)
	assert.Equal(t, user.ErrEmailExists, errors.Cause(users.CheckUniqueness(ctx, "", "kabila@test.cd")))
	_, err := users.CreateUser(ctx, user.User{ID: uuid.New().String(), Name: "X", Username: "kabila", CreatedAt: now, UpdatedAt: now})
	assert.Equal(t, user.ErrUsernameExists, errors.Cause(err))

	cls, err := assignments.CreateClass(ctx, assignment.Class{ID: uuid.New().String(), Name: "6e A", TeacherID: teacher.ID, CreatedAt: now})
	require.NoError(t, err)
	got, err := assignments.GetClass(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mme Kabila", got.TeacherName)

	a, err := assignments.CreateAssignment(ctx, assignment.Assignment{
		ID:           uuid.New().String(),
		ClassID:      cls.ID,
		Title:        "My Family",
		Type:         assignment.TypeWriting,
		CanvasData:   json.RawMessage(`{"elements":[]}`),
		CanvasWidth:  800,
		CanvasHeight: 600,
		Resources:    []assignment.Resource{{Title: "Vocabulary", URL: "https://woe.test/vocab"}},
		Code:         "BEGINNER001",
		IsPublished:  true,
		CreatedAt:    now,
	})
	require.NoError(t, err)
	_, err = assignments.CreateAssignment(ctx, assignment.Assignment{ID: uuid.New().String(), ClassID: cls.ID, Title: "Dup", Type: assignment.TypeWriting, Code: "BEGINNER001", CreatedAt: now})
	assert.Equal(t, assignment.ErrCodeExists, errors.Cause(err))

	byCode, err := assignments.GetAssignment(ctx, assignment.GetFilter{Code: "BEGINNER001"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, byCode.ID)
	assert.Equal(t, a.Resources, byCode.Resources)
	assert.True(t, byCode.CreatedAt.Equal(now))

	own, err := assignments.QueryAssignments(ctx, assignment.QueryFilter{TeacherID: teacher.ID})
	require.NoError(t, err)
	assert.Len(t, own, 1)

	tx := database.NewTransactor(db)
	student, err := user.New("Mia", "", "mia@test.cd", "secret", []string{user.RoleStudent})
	require.NoError(t, err)
	err = tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		if _, err := users.CreateUser(ctx, student, exec); err != nil {
			return err
		}
		if err := assignments.Enroll(ctx, cls.ID, student.ID, now, exec); err != nil {
			return err
		}
		return errors.New("rollback")
	})
	assert.EqualError(t, err, "rollback")
	_, err = users.GetUser(ctx, user.GetFilter{ID: student.ID})
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))

	err = tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		if _, err := users.CreateUser(ctx, student, exec); err != nil {
			return err
		}
		if err := assignments.Enroll(ctx, cls.ID, student.ID, now, exec); err != nil {
			return err
		}
		if err := assignments.Enroll(ctx, cls.ID, student.ID, now, exec); err != nil {
			return err
		}
		if _, err := subs.CreateSubmission(ctx, submission.Submission{
			ID:           uuid.New().String(),
			AssignmentID: a.ID,
			StudentID:    student.ID,
			Status:       submission.StatusDraft,
			WorkData:     json.RawMessage(`{"textContent":"hello"}`),
			CreatedAt:    now,
			UpdatedAt:    now,
		}, exec); err != nil {
			return err
		}
		_, err := subs.CreateProgress(ctx, submission.Progress{
			ID:           uuid.New().String(),
			StudentID:    student.ID,
			AssignmentID: a.ID,
			Status:       submission.ProgressInProgress,
			StartedAt:    now,
		}, exec)
		return err
	})
	require.NoError(t, err)

	list, err := subs.QuerySubmissions(ctx, submission.QueryFilter{StudentID: student.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, `{"textContent":"hello"}`, string(list[0].WorkData))

	_, err = subs.CreateProgress(ctx, submission.Progress{ID: uuid.New().String(), StudentID: student.ID, AssignmentID: a.ID, Status: submission.ProgressInProgress, StartedAt: now})
	assert.Equal(t, submission.ErrProgressExists, errors.Cause(err))
	p, err := subs.GetProgress(ctx, student.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.ProgressInProgress, p.Status)
}

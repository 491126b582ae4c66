package guest

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writeonenglish/woe/storage/kv/memkv"
	"github.com/writeonenglish/woe/tests"
)

type fakeConverter struct {
	got ConversionRequest
	err error
}

func (c *fakeConverter) ConvertGuest(_ context.Context, req ConversionRequest) (ConversionResult, error) {
	c.got = req
	if c.err != nil {
		return ConversionResult{}, c.err
	}
	return ConversionResult{
		User:         ConvertedUser{ID: "u1", Name: req.Name, Email: req.Email, Roles: []string{"student:"}},
		SubmissionID: "s1",
	}, nil
}

func TestStore_Convert(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	sess, err := store.CreateSession(ctx, "a1", "BEGINNER001", "Mia")
	require.NoError(t, err)
	require.NoError(t, store.UpdateWork(ctx, sess.ID, WorkUpdate{TextContent: strPtr("My family")}))

	conv := &fakeConverter{}
	res, err := store.Convert(ctx, sess.ID, Credentials{Email: "mia@test.cd", Password: "secret"}, conv)
	require.NoError(t, err)

	assert.Equal(t, "Mia", conv.got.Name, "falls back to the session name")
	assert.Equal(t, "mia@test.cd", conv.got.Email)
	assert.Equal(t, "a1", conv.got.GuestSessionData.AssignmentID)
	assert.Equal(t, "BEGINNER001", conv.got.GuestSessionData.AssignmentCode)
	assert.Equal(t, sess.StartedAt, conv.got.GuestSessionData.StartedAt)
	require.NotNil(t, conv.got.GuestSessionData.WorkData)
	assert.Equal(t, "My family", conv.got.GuestSessionData.WorkData.TextContent)

	assert.Equal(t, "u1", res.User.ID)
	assert.Equal(t, "s1", res.SubmissionID)

	assert.Empty(t, store.AllSessions(ctx), "converted sessions are cleared")
	_, ok := store.CurrentSession(ctx)
	assert.False(t, ok)
}

func TestStore_Convert_failure(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	sess, err := store.CreateSession(ctx, "a1", "BEGINNER001", "Mia")
	require.NoError(t, err)

	conv := &fakeConverter{err: errors.New("email taken")}
	_, err = store.Convert(ctx, sess.ID, Credentials{Name: "Mia K", Email: "mia@test.cd", Password: "secret"}, conv)
	assert.EqualError(t, err, "email taken")
	assert.Equal(t, "Mia K", conv.got.Name)
	assert.Len(t, store.AllSessions(ctx), 1, "session kept for another try")

	_, err = store.Convert(ctx, "nope", Credentials{}, conv)
	assert.Equal(t, ErrSessionNotFound, err)
}

func TestConversionRequest_Validate(t *testing.T) {
	validate := testutil.NewValidator()
	valid := func() ConversionRequest {
		return ConversionRequest{
			Name:     "Mia",
			Email:    "Mia@Test.cd ",
			Password: "secret",
			GuestSessionData: SessionData{
				AssignmentID:   "a1",
				AssignmentCode: "beginner001",
				StartedAt:      time.Now(),
			},
		}
	}

	tests := []struct {
		name      string
		modify    func(r *ConversionRequest)
		wantField string
	}{
		{name: "valid", modify: func(r *ConversionRequest) {}},
		{name: "short name", modify: func(r *ConversionRequest) { r.Name = " M " }, wantField: "name"},
		{name: "bad email", modify: func(r *ConversionRequest) { r.Email = "mia" }, wantField: "email"},
		{name: "short password", modify: func(r *ConversionRequest) { r.Password = "12345" }, wantField: "password"},
		{name: "no assignment id", modify: func(r *ConversionRequest) { r.GuestSessionData.AssignmentID = "" }, wantField: "assignmentId"},
		{name: "no code", modify: func(r *ConversionRequest) { r.GuestSessionData.AssignmentCode = " " }, wantField: "assignmentCode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.modify(&req)
			err := req.Validate(validate)
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, "mia@test.cd", req.Email)
				assert.Equal(t, "BEGINNER001", req.GuestSessionData.AssignmentCode)
				return
			}
			var vErrs validator.ValidationErrors
			require.True(t, errors.As(err, &vErrs))
			assert.Equal(t, tt.wantField, vErrs[0].Field())
		})
	}
}

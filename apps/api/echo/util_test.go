package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/assignment"
	"github.com/writeonenglish/woe/core/conversion"
	"github.com/writeonenglish/woe/core/submission"
	"github.com/writeonenglish/woe/core/user"
	emailsvc "github.com/writeonenglish/woe/services/email"
	"github.com/writeonenglish/woe/storage/database/inmemdb"
	"github.com/writeonenglish/woe/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type (
	httpErr struct {
		Error string `json:"error"`
	}

	httpTest struct {
		name     string
		method   string
		path     string
		body     []byte
		token    string
		wantCode int
		wantData []byte
	}

	testApp struct {
		Server
		conf    *core.Config
		db      *inmemdb.DB
		users   *inmemdb.UserRepository
		asgRepo *inmemdb.AssignmentRepository
		subRepo *inmemdb.SubmissionRepository
		mail    *emailsvc.ConsoleService
		logger  *testutil.Logger
	}
)

func setup(t *testing.T) *testApp {
	t.Helper()
	conf := &core.Config{
		AppName:          "Write on English",
		TestMode:         true,
		SecretKey:        "secret",
		FrontendBaseURL:  "http://woe.test",
		DefaultFromEmail: "noreply@woe.test",
		Server: core.ServerConfig{
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
	}
	db := inmemdb.Open()
	app := &testApp{
		conf:    conf,
		db:      db,
		users:   inmemdb.NewUserRepository(db),
		asgRepo: inmemdb.NewAssignmentRepository(db),
		subRepo: inmemdb.NewSubmissionRepository(db),
		logger:  &testutil.Logger{},
	}
	app.mail = emailsvc.NewConsoleServiceMock(conf, app.logger)

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)

	conv, err := conversion.NewService(conversion.Deps{
		Conf:        conf,
		Logger:      app.logger,
		Validate:    validate,
		Tx:          db,
		Users:       app.users,
		Assignments: app.asgRepo,
		Submissions: app.subRepo,
		Mail:        app.mail,
	})
	require.NoError(t, err)

	app.Server, err = NewServer(ServerDeps{
		Conf:           conf,
		Logger:         app.logger,
		Validate:       validate,
		Translator:     translator,
		UserSvc:        user.NewService(app.users),
		AssignmentSvc:  assignment.NewService(app.asgRepo),
		SubmissionSvc:  submission.NewService(app.subRepo),
		Converter:      conv,
		DisableReqLogs: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

// seedAssignment creates a teacher, a class & a published assignment with code.
func (app *testApp) seedAssignment(t *testing.T, code string, published bool) (user.User, assignment.Assignment) {
	t.Helper()
	ctx := context.Background()
	teacher := testutil.CreateUser(t, app.users, "Mme Kabila", "", "kabila+"+code+"@test.cd", "secret", []string{user.RoleTeacher}, true)
	cls, err := app.asgRepo.CreateClass(ctx, assignment.Class{ID: "c-" + code, Name: "6e A", TeacherID: teacher.ID, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	a, err := app.asgRepo.CreateAssignment(ctx, assignment.Assignment{
		ID:           "a-" + code,
		ClassID:      cls.ID,
		Title:        "My Family",
		Description:  "Describe your family",
		Type:         assignment.TypeMixed,
		Instructions: "Draw & write",
		CanvasWidth:  800,
		CanvasHeight: 600,
		Code:         code,
		IsPublished:  published,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	return teacher, a
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(app.conf, GetUserClaims(app.conf, usr))
	require.NoError(t, err)
	return token
}

func (app *testApp) do(t *testing.T, tt httpTest) *httptest.ResponseRecorder {
	t.Helper()
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, tt.path, bytes.NewReader(tt.body))
	req.Header.Set("Content-Type", "application/json")
	if tt.token != "" {
		req.Header.Set("Authorization", "Bearer "+tt.token)
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, tt)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func marshal(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	return data
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	wantCode := tt.wantCode
	if wantCode == 0 {
		wantCode = http.StatusOK
	}
	assert.Equal(t, wantCode, rec.Code, rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}

// Package conversion turns guest sessions into student accounts.
package conversion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/assignment"
	"github.com/writeonenglish/woe/core/guest"
	"github.com/writeonenglish/woe/core/submission"
	"github.com/writeonenglish/woe/core/user"
)

const (
	welcomeTemplate = "welcome"
	answerFilename  = "answer.txt"
)

var (
	// errors
	ErrAssignmentMismatch = errors.New("assignment does not match the access code")

	NowFunc = time.Now // mockable
)

type (
	Deps struct {
		Conf        *core.Config
		Logger      core.Logger
		Validate    *validator.Validate
		Tx          core.Transactor
		Users       user.Repository
		Assignments assignment.Repository
		Submissions submission.Repository
		Mail        core.EmailService
	}

	Service struct {
		conf        *core.Config
		logger      core.Logger
		validate    *validator.Validate
		tx          core.Transactor
		users       user.Repository
		assignments assignment.Repository
		submissions submission.Repository
		mail        core.EmailService
	}

	welcomeData struct {
		Name            string
		Email           string
		AssignmentTitle string
	}
)

var _ guest.AccountConverter = (*Service)(nil)

func NewService(deps Deps) (*Service, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Conf, "Conf"),
		vala.IsNotNil(deps.Logger, "Logger"),
		vala.IsNotNil(deps.Validate, "Validate"),
		vala.IsNotNil(deps.Tx, "Tx"),
		vala.IsNotNil(deps.Users, "Users"),
		vala.IsNotNil(deps.Assignments, "Assignments"),
		vala.IsNotNil(deps.Submissions, "Submissions"),
		vala.IsNotNil(deps.Mail, "Mail"),
	).Check(); err != nil {
		return nil, err
	}
	return &Service{
		conf:        deps.Conf,
		logger:      deps.Logger,
		validate:    deps.Validate,
		tx:          deps.Tx,
		users:       deps.Users,
		assignments: deps.Assignments,
		submissions: deps.Submissions,
		mail:        deps.Mail,
	}, nil
}

// ConvertGuest creates a student account from a guest session, in a single transaction:
// the user, its enrollment in the assignment's class, a draft submission holding the guest work (if any)
// and an in-progress record starting when the guest started. A welcome email follows the commit.
func (svc *Service) ConvertGuest(ctx context.Context, req guest.ConversionRequest) (guest.ConversionResult, error) {
	if err := req.Validate(svc.validate); err != nil {
		return guest.ConversionResult{}, err
	}
	data := req.GuestSessionData

	var (
		usr   user.User
		asg   assignment.Assignment
		subID string
	)
	err := svc.tx.WithinTx(ctx, func(exec core.DBExecutor) error {
		if err := user.ToValidationError(svc.users.CheckUniqueness(ctx, "", req.Email, exec)); err != nil {
			return err
		}

		var err error
		asg, err = svc.assignments.GetAssignment(ctx, assignment.GetFilter{ID: data.AssignmentID}, exec)
		switch {
		case errors.Cause(err) == assignment.ErrNotFound:
			return core.NewValidationError(err, core.FieldError{Field: "guestSessionData", Error: err.Error()})
		case err != nil:
			return errors.Wrap(err, "getting assignment")
		case asg.Code != data.AssignmentCode:
			return core.NewValidationError(ErrAssignmentMismatch, core.FieldError{Field: "guestSessionData", Error: ErrAssignmentMismatch.Error()})
		}

		if usr, err = user.New(req.Name, "", req.Email, req.Password, []string{user.RoleStudent}); err != nil {
			return errors.Wrap(err, "creating user")
		}
		if usr, err = svc.users.CreateUser(ctx, usr, exec); err != nil {
			return user.ToValidationError(err)
		}

		now := NowFunc().UTC()
		if err = svc.assignments.Enroll(ctx, asg.ClassID, usr.ID, now, exec); err != nil {
			return errors.Wrap(err, "enrolling student")
		}

		if data.WorkData != nil && !data.WorkData.IsEmpty() {
			work, err := json.Marshal(data.WorkData)
			if err != nil {
				return errors.Wrap(err, "encoding work data")
			}
			sub, err := svc.submissions.CreateSubmission(ctx, submission.Submission{
				ID:           uuid.New().String(),
				AssignmentID: asg.ID,
				StudentID:    usr.ID,
				Status:       submission.StatusDraft,
				WorkData:     work,
				CreatedAt:    now,
				UpdatedAt:    now,
			}, exec)
			if err != nil {
				return errors.Wrap(err, "creating submission")
			}
			subID = sub.ID
		}

		startedAt := data.StartedAt.UTC()
		spent := int(now.Sub(startedAt) / time.Second)
		if spent < 0 {
			spent = 0
		}
		_, err = svc.submissions.CreateProgress(ctx, submission.Progress{
			ID:           uuid.New().String(),
			StudentID:    usr.ID,
			AssignmentID: asg.ID,
			Status:       submission.ProgressInProgress,
			StartedAt:    startedAt,
			TimeSpent:    spent,
		}, exec)
		return errors.Wrap(err, "creating progress")
	})
	if err != nil {
		return guest.ConversionResult{}, err
	}

	svc.logger.Info("guest converted", map[string]interface{}{"assignmentId": asg.ID, "submissionId": subID}, usr)
	svc.sendWelcome(usr, asg, data.WorkData)

	return guest.ConversionResult{
		User: guest.ConvertedUser{
			ID:    usr.ID,
			Name:  usr.Name,
			Email: usr.Email,
			Roles: usr.Roles,
		},
		SubmissionID: subID,
	}, nil
}

// sendWelcome mails the new student, with the written answer of the guest attached when there is one.
func (svc *Service) sendWelcome(usr user.User, asg assignment.Assignment, work *guest.WorkData) {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Welcome to " + svc.conf.AppName,
		TemplateName: welcomeTemplate,
		TemplateData: welcomeData{Name: usr.Name, Email: usr.Email, AssignmentTitle: asg.Title},
	}
	if work != nil && strings.TrimSpace(work.TextContent) != "" {
		if err := msg.Attach(strings.NewReader(work.TextContent), answerFilename, "text/plain; charset=utf-8"); err != nil {
			svc.logger.Warn(fmt.Sprintf("attaching guest answer: %v", err), usr)
		}
	}
	svc.mail.SendMessages(msg)
}

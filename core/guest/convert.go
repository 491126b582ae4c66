package guest

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/writeonenglish/woe/core"
)

// SessionData is the part of a Session carried over to a new account.
type SessionData struct {
	AssignmentID   string    `json:"assignmentId" validate:"required"`
	AssignmentCode string    `json:"assignmentCode" validate:"required"`
	WorkData       *WorkData `json:"workData,omitempty"`
	TempName       string    `json:"tempName,omitempty"`
	StartedAt      time.Time `json:"startedAt" validate:"required"`
}

// ConversionRequest turns a guest session into a student account.
type ConversionRequest struct {
	Name             string      `json:"name" validate:"required,notblank,min=2,max=150"`
	Email            string      `json:"email" validate:"required,email,max=254"`
	Password         string      `json:"password" validate:"required,min=6,max=128"`
	GuestSessionData SessionData `json:"guestSessionData"`
}

func (r *ConversionRequest) Validate(validate *validator.Validate) error {
	r.Name = core.CleanString(r.Name)
	r.Email = core.CleanString(r.Email, true)
	r.GuestSessionData.AssignmentCode = core.CleanCode(r.GuestSessionData.AssignmentCode)
	return validate.Struct(r)
}

type ConvertedUser struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

type ConversionResult struct {
	User         ConvertedUser `json:"user"`
	SubmissionID string        `json:"submissionId,omitempty"`
}

// AccountConverter creates the account of a guest, server side.
type AccountConverter interface {
	ConvertGuest(ctx context.Context, req ConversionRequest) (ConversionResult, error)
}

// Credentials are what a guest types in to keep their work.
// An empty Name falls back to the name given when the session started.
type Credentials struct {
	Name     string
	Email    string
	Password string
}

// Convert sends session id to conv with creds, then clears the session once the account exists.
func (s *Store) Convert(ctx context.Context, id string, creds Credentials, conv AccountConverter) (ConversionResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ConversionResult{}, ErrClosed
	}
	sess, ok := s.loadSoft(ctx)[id]
	s.mu.Unlock()
	if !ok {
		return ConversionResult{}, ErrSessionNotFound
	}

	name := creds.Name
	if core.CleanString(name) == "" {
		name = sess.TempName
	}
	res, err := conv.ConvertGuest(ctx, ConversionRequest{
		Name:             name,
		Email:            creds.Email,
		Password:         creds.Password,
		GuestSessionData: sess.Data(),
	})
	if err != nil {
		return ConversionResult{}, err
	}

	if err := s.ClearSession(ctx, id); err != nil {
		s.logger.Warn("clearing converted guest session", map[string]interface{}{"id": id, "error": err.Error()})
	}
	return res, nil
}

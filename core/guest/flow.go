package guest

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/assignment"
)

type State int

const (
	StateEnteringCode State = iota
	StateLookingUpAssignment
	StateNotFound
	StateFailed
	StateEnteringName
	StateSessionCreated
)

func (s State) String() string {
	switch s {
	case StateEnteringCode:
		return "entering_code"
	case StateLookingUpAssignment:
		return "looking_up_assignment"
	case StateNotFound:
		return "not_found"
	case StateFailed:
		return "failed"
	case StateEnteringName:
		return "entering_name"
	case StateSessionCreated:
		return "session_created"
	}
	return "unknown"
}

var (
	// errors
	ErrBusy         = errors.New("a request is already in progress")
	ErrInvalidState = errors.New("action not allowed in the current state")
)

// AssignmentLookup resolves access codes; it returns assignment.ErrNotFound for unknown codes.
type AssignmentLookup interface {
	LookupAssignment(ctx context.Context, code string) (assignment.Public, error)
}

type (
	codeInput struct {
		Code string `json:"code" validate:"required,notblank"`
	}

	nameInput struct {
		Name string `json:"name" validate:"required,min=2,max=150"`
	}
)

// Flow walks a guest from an access code to a session:
//
//	EnteringCode -> LookingUpAssignment -> EnteringName -> SessionCreated
//	                                    \-> NotFound | Failed
//
// A code that already has a session skips straight to SessionCreated.
// Only one request runs at a time; a second one gets ErrBusy.
type Flow struct {
	store    *Store
	lookup   AssignmentLookup
	validate *validator.Validate

	mu         sync.Mutex
	state      State
	loading    bool
	code       string
	assignment assignment.Public
	session    Session
	resumed    bool
	err        error
}

func NewFlow(store *Store, lookup AssignmentLookup, validate *validator.Validate) (*Flow, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(store, "store"),
		vala.IsNotNil(lookup, "lookup"),
		vala.IsNotNil(validate, "validate"),
	).Check(); err != nil {
		return nil, err
	}
	return &Flow{store: store, lookup: lookup, validate: validate}, nil
}

// SubmitCode resumes the session of code, or looks the assignment up and asks for a name.
// Lookup failures are reported through the returned state and Err, not as an error.
func (f *Flow) SubmitCode(ctx context.Context, code string) (State, error) {
	in := codeInput{Code: code}
	if err := f.validate.Struct(in); err != nil {
		return f.State(), err
	}
	code = core.CleanCode(code)

	f.mu.Lock()
	if f.loading {
		f.mu.Unlock()
		return f.state, ErrBusy
	}
	if f.state == StateSessionCreated {
		f.mu.Unlock()
		return f.state, ErrInvalidState
	}
	f.begin(StateLookingUpAssignment)
	f.code = code
	f.mu.Unlock()

	if sess, ok := f.store.SessionByCode(ctx, code); ok {
		err := f.store.SetCurrentSession(ctx, sess.ID)
		return f.finishSession(sess, true, err)
	}

	pub, err := f.lookup.LookupAssignment(ctx, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = false
	switch {
	case err == nil:
		f.assignment = pub
		f.state = StateEnteringName
	case errors.Cause(err) == assignment.ErrNotFound:
		f.err = err
		f.state = StateNotFound
	default:
		f.err = err
		f.state = StateFailed
	}
	return f.state, nil
}

// SubmitName starts a session for the looked up assignment under the given display name.
func (f *Flow) SubmitName(ctx context.Context, name string) (State, error) {
	in := nameInput{Name: core.CleanString(name)}
	if err := f.validate.Struct(in); err != nil {
		return f.State(), err
	}

	f.mu.Lock()
	if f.loading {
		f.mu.Unlock()
		return f.state, ErrBusy
	}
	if f.state != StateEnteringName {
		f.mu.Unlock()
		return f.state, ErrInvalidState
	}
	f.begin(StateEnteringName)
	assignmentID, code := f.assignment.ID, f.code
	f.mu.Unlock()

	sess, err := f.store.CreateSession(ctx, assignmentID, code, in.Name)
	if errors.Cause(err) == ErrCodeInUse {
		// another client of the same storage got there first
		if existing, ok := f.store.SessionByCode(ctx, code); ok {
			err = f.store.SetCurrentSession(ctx, existing.ID)
			return f.finishSession(existing, true, err)
		}
	}
	return f.finishSession(sess, false, err)
}

// Reset goes back to code entry.
func (f *Flow) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loading {
		return ErrBusy
	}
	f.state = StateEnteringCode
	f.code = ""
	f.assignment = assignment.Public{}
	f.session = Session{}
	f.resumed = false
	f.err = nil
	return nil
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Loading reports whether a request is in progress.
func (f *Flow) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// Err returns the failure behind StateNotFound or StateFailed.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Flow) Code() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

func (f *Flow) Assignment() (assignment.Public, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignment, f.assignment.ID != ""
}

// Session returns the created or resumed session once in StateSessionCreated.
func (f *Flow) Session() (Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.state == StateSessionCreated
}

// Resumed reports whether the session existed before the code was submitted.
func (f *Flow) Resumed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumed
}

// RedirectPath is where the guest continues once the session exists.
func (f *Flow) RedirectPath() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateSessionCreated {
		return "", false
	}
	return "/student/assignments/" + f.session.AssignmentID + "?guest=true", true
}

// begin marks a request as running; callers hold f.mu.
func (f *Flow) begin(state State) {
	f.loading = true
	f.state = state
	f.err = nil
}

func (f *Flow) finishSession(sess Session, resumed bool, err error) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = false
	if err != nil {
		f.err = err
		f.state = StateFailed
		return f.state, nil
	}
	f.session = sess
	f.resumed = resumed
	f.state = StateSessionCreated
	return f.state, nil
}

package guest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writeonenglish/woe/core/assignment"
	"github.com/writeonenglish/woe/storage/kv/memkv"
	"github.com/writeonenglish/woe/tests"
)

type fakeLookup struct {
	mu          sync.Mutex
	assignments map[string]assignment.Public
	err         error
	calls       []string
	block       chan struct{} // when set, lookups wait for it or for ctx
}

func (l *fakeLookup) LookupAssignment(ctx context.Context, code string) (assignment.Public, error) {
	l.mu.Lock()
	l.calls = append(l.calls, code)
	block := l.block
	l.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return assignment.Public{}, ctx.Err()
		}
	}
	if l.err != nil {
		return assignment.Public{}, l.err
	}
	pub, ok := l.assignments[code]
	if !ok {
		return assignment.Public{}, assignment.ErrNotFound
	}
	return pub, nil
}

func (l *fakeLookup) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func newLookup() *fakeLookup {
	return &fakeLookup{assignments: map[string]assignment.Public{
		"BEGINNER001": {ID: "a1", Title: "My Family", Type: assignment.TypeDrawing},
	}}
}

func newFlow(t *testing.T, store *Store, lookup AssignmentLookup) *Flow {
	t.Helper()
	flow, err := NewFlow(store, lookup, testutil.NewValidator())
	require.NoError(t, err)
	return flow
}

func TestNewFlow_nilArgs(t *testing.T) {
	store, _ := openStore(t, memkv.New())
	_, err := NewFlow(store, nil, testutil.NewValidator())
	assert.Error(t, err)
}

func TestFlow_newSession(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	lookup := newLookup()
	flow := newFlow(t, store, lookup)
	assert.Equal(t, StateEnteringCode, flow.State())

	state, err := flow.SubmitCode(ctx, "beginner001")
	require.NoError(t, err)
	assert.Equal(t, StateEnteringName, state)
	assert.Equal(t, []string{"BEGINNER001"}, lookup.calls)
	pub, ok := flow.Assignment()
	require.True(t, ok)
	assert.Equal(t, "My Family", pub.Title)

	_, ok = flow.RedirectPath()
	assert.False(t, ok)

	state, err = flow.SubmitName(ctx, "  Mia ")
	require.NoError(t, err)
	assert.Equal(t, StateSessionCreated, state)
	assert.False(t, flow.Resumed())

	sess, ok := flow.Session()
	require.True(t, ok)
	assert.Equal(t, "a1", sess.AssignmentID)
	assert.Equal(t, "BEGINNER001", sess.AssignmentCode)
	assert.Equal(t, "Mia", sess.TempName)

	current, ok := store.CurrentSession(ctx)
	require.True(t, ok)
	assert.Equal(t, sess.ID, current.ID)

	path, ok := flow.RedirectPath()
	require.True(t, ok)
	assert.Equal(t, "/student/assignments/a1?guest=true", path)
}

func TestFlow_resume(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	existing, err := store.CreateSession(ctx, "a1", "BEGINNER001", "Mia")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "a2", "OTHER", "Mia")
	require.NoError(t, err)

	lookup := newLookup()
	flow := newFlow(t, store, lookup)
	state, err := flow.SubmitCode(ctx, " Beginner001")
	require.NoError(t, err)

	assert.Equal(t, StateSessionCreated, state)
	assert.True(t, flow.Resumed())
	assert.Equal(t, 0, lookup.callCount(), "no lookup when resuming")
	assert.Len(t, store.AllSessions(ctx), 2, "no duplicate session")

	sess, _ := flow.Session()
	assert.Equal(t, existing.ID, sess.ID)
	current, _ := store.CurrentSession(ctx)
	assert.Equal(t, existing.ID, current.ID)
	path, _ := flow.RedirectPath()
	assert.Equal(t, "/student/assignments/a1?guest=true", path)
}

func TestFlow_notFound(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	flow := newFlow(t, store, newLookup())

	state, err := flow.SubmitCode(ctx, "ZZZZZZ")
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, state)
	assert.Equal(t, assignment.ErrNotFound, errors.Cause(flow.Err()))
	assert.Empty(t, store.AllSessions(ctx))

	_, err = flow.SubmitName(ctx, "Mia")
	assert.Equal(t, ErrInvalidState, err)

	require.NoError(t, flow.Reset())
	long := strings.Repeat("BEGINNER", 8)
	state, err = flow.SubmitCode(ctx, long)
	require.NoError(t, err, "long codes are looked up, not rejected")
	assert.Equal(t, StateNotFound, state)

	require.NoError(t, flow.Reset())
	assert.Equal(t, StateEnteringCode, flow.State())
	assert.NoError(t, flow.Err())
	assert.Empty(t, flow.Code())
}

func TestFlow_lookupFailure(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	lookup := newLookup()
	lookup.err = errors.New("connection refused")
	flow := newFlow(t, store, lookup)

	state, err := flow.SubmitCode(ctx, "BEGINNER001")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
	assert.EqualError(t, flow.Err(), "connection refused")

	// failed lookups can be retried right away
	lookup.err = nil
	state, err = flow.SubmitCode(ctx, "BEGINNER001")
	require.NoError(t, err)
	assert.Equal(t, StateEnteringName, state)
	assert.NoError(t, flow.Err())
}

func TestFlow_invalidInput(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	lookup := newLookup()
	flow := newFlow(t, store, lookup)

	for _, code := range []string{"", "   "} {
		_, err := flow.SubmitCode(ctx, code)
		var vErrs validator.ValidationErrors
		assert.True(t, errors.As(err, &vErrs), "code %q", code)
	}
	assert.Equal(t, StateEnteringCode, flow.State())
	assert.Equal(t, 0, lookup.callCount())

	_, err := flow.SubmitCode(ctx, "BEGINNER001")
	require.NoError(t, err)
	for _, name := range []string{"", " M "} {
		state, err := flow.SubmitName(ctx, name)
		var vErrs validator.ValidationErrors
		assert.True(t, errors.As(err, &vErrs), "name %q", name)
		assert.Equal(t, StateEnteringName, state)
	}
	assert.Empty(t, store.AllSessions(ctx))
}

func TestFlow_sessionCreatedIsFinal(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	flow := newFlow(t, store, newLookup())
	_, err := flow.SubmitCode(ctx, "BEGINNER001")
	require.NoError(t, err)
	_, err = flow.SubmitName(ctx, "Mia")
	require.NoError(t, err)

	_, err = flow.SubmitCode(ctx, "BEGINNER001")
	assert.Equal(t, ErrInvalidState, err)
	_, err = flow.SubmitName(ctx, "Mia")
	assert.Equal(t, ErrInvalidState, err)
}

func TestFlow_busy(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	lookup := newLookup()
	lookup.block = make(chan struct{})
	flow := newFlow(t, store, lookup)

	done := make(chan State)
	go func() {
		state, _ := flow.SubmitCode(ctx, "BEGINNER001")
		done <- state
	}()
	require.Eventually(t, flow.Loading, time.Second, time.Millisecond)
	assert.Equal(t, StateLookingUpAssignment, flow.State())

	_, err := flow.SubmitCode(ctx, "BEGINNER001")
	assert.Equal(t, ErrBusy, err)
	assert.Equal(t, ErrBusy, flow.Reset())

	close(lookup.block)
	assert.Equal(t, StateEnteringName, <-done)
	assert.False(t, flow.Loading())
	assert.Equal(t, 1, lookup.callCount())
}

func TestFlow_cancelledLookup(t *testing.T) {
	store, _ := openStore(t, memkv.New())
	lookup := newLookup()
	lookup.block = make(chan struct{})
	flow := newFlow(t, store, lookup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan State)
	go func() {
		state, _ := flow.SubmitCode(ctx, "BEGINNER001")
		done <- state
	}()
	require.Eventually(t, flow.Loading, time.Second, time.Millisecond)
	cancel()

	assert.Equal(t, StateFailed, <-done)
	assert.ErrorIs(t, flow.Err(), context.Canceled)
	assert.Empty(t, store.AllSessions(context.Background()))
}

func TestFlow_codeTakenMeanwhile(t *testing.T) {
	ctx := context.Background()
	storage := memkv.New()
	store, _ := openStore(t, storage)
	flow := newFlow(t, store, newLookup())

	_, err := flow.SubmitCode(ctx, "BEGINNER001")
	require.NoError(t, err)

	// another tab starts the same assignment before the name is submitted
	otherTab, _ := openStore(t, storage)
	other, err := otherTab.CreateSession(ctx, "a1", "BEGINNER001", "Mia")
	require.NoError(t, err)

	state, err := flow.SubmitName(ctx, "Mia")
	require.NoError(t, err)
	assert.Equal(t, StateSessionCreated, state)
	assert.True(t, flow.Resumed())
	sess, _ := flow.Session()
	assert.Equal(t, other.ID, sess.ID)
	assert.Len(t, store.AllSessions(ctx), 1)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "entering_code", StateEnteringCode.String())
	assert.Equal(t, "session_created", StateSessionCreated.String())
	assert.Equal(t, "unknown", State(42).String())
}

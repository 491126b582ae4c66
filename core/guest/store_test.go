package guest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/storage/kv/filekv"
	"github.com/writeonenglish/woe/storage/kv/memkv"
	"github.com/writeonenglish/woe/tests"
)

var errStorageDown = errors.New("storage down")

// brokenStorage fails every call whose key is listed.
type brokenStorage struct {
	*memkv.Store
	failGet map[string]bool
	failSet map[string]bool
	closed  bool
}

func (s *brokenStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	if s.failGet[key] {
		return "", false, errStorageDown
	}
	return s.Store.GetItem(ctx, key)
}

func (s *brokenStorage) SetItem(ctx context.Context, key, value string) error {
	if s.failSet[key] {
		return errStorageDown
	}
	return s.Store.SetItem(ctx, key, value)
}

func (s *brokenStorage) Close() error {
	s.closed = true
	return nil
}

func strPtr(s string) *string { return &s }

func setClock(t *testing.T, tm time.Time) *time.Time {
	t.Helper()
	clock := tm
	NowFunc = func() time.Time { return clock }
	t.Cleanup(func() { NowFunc = time.Now })
	return &clock
}

func openStore(t *testing.T, storage Storage, opts ...Option) (*Store, *testutil.Logger) {
	t.Helper()
	logger := &testutil.Logger{}
	store, err := Open(context.Background(), storage, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, logger
}

func TestOpen_nilArgs(t *testing.T) {
	_, err := Open(context.Background(), nil, &testutil.Logger{})
	assert.Error(t, err)
	_, err = Open(context.Background(), memkv.New(), nil)
	assert.Error(t, err)
}

func TestStore_CreateSession(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.FixedZone("WAT", 3600))
	setClock(t, start)
	store, _ := openStore(t, memkv.New())

	sess, err := store.CreateSession(ctx, "a1", " beginner001 ", " Mia ")
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "a1", sess.AssignmentID)
	assert.Equal(t, "BEGINNER001", sess.AssignmentCode)
	assert.Equal(t, "Mia", sess.TempName)
	assert.Nil(t, sess.WorkData)
	assert.Equal(t, time.UTC, sess.StartedAt.Location())
	assert.True(t, sess.StartedAt.Equal(start.Truncate(time.Millisecond)))
	assert.Equal(t, sess.StartedAt, sess.LastActivity)

	current, ok := store.CurrentSession(ctx)
	require.True(t, ok)
	assert.Equal(t, sess, current)

	all := store.AllSessions(ctx)
	assert.Len(t, all, 1)
	assert.Equal(t, sess, all[sess.ID])
}

func TestStore_CreateSession_invalid(t *testing.T) {
	store, _ := openStore(t, memkv.New())

	_, err := store.CreateSession(context.Background(), "", "  ", "")
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.Fields, 2)
	assert.Empty(t, store.AllSessions(context.Background()))
}

func TestStore_CreateSession_codeInUse(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())

	first, err := store.CreateSession(ctx, "a1", "BEGINNER001", "Mia")
	require.NoError(t, err)

	_, err = store.CreateSession(ctx, "a1", "Beginner001", "Mia")
	assert.Equal(t, ErrCodeInUse, errors.Cause(err))
	assert.Len(t, store.AllSessions(ctx), 1)

	resumed, ok := store.SessionByCode(ctx, "beginner001")
	require.True(t, ok)
	assert.Equal(t, first.ID, resumed.ID)
}

func TestStore_SessionByCode(t *testing.T) {
	ctx := context.Background()
	storage := memkv.New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// duplicates can only come from storage written by someone else
	sessions := map[string]Session{
		"b": {ID: "b", AssignmentID: "a1", AssignmentCode: "DUP", StartedAt: t0, LastActivity: t0},
		"a": {ID: "a", AssignmentID: "a1", AssignmentCode: "dup", StartedAt: t0, LastActivity: t0},
		"c": {ID: "c", AssignmentID: "a1", AssignmentCode: "DUP", StartedAt: t0, LastActivity: t0.Add(-time.Minute)},
		"d": {ID: "d", AssignmentID: "a2", AssignmentCode: "OTHER", StartedAt: t0, LastActivity: t0.Add(time.Hour)},
	}
	data, err := json.Marshal(sessions)
	require.NoError(t, err)
	require.NoError(t, storage.SetItem(ctx, SessionsKey, string(data)))
	store, _ := openStore(t, storage)

	tests := []struct {
		name   string
		code   string
		wantID string
	}{
		{name: "tie goes to smallest id", code: "Dup", wantID: "a"},
		{name: "single match", code: "other", wantID: "d"},
		{name: "no match", code: "NOPE"},
		{name: "blank", code: "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, ok := store.SessionByCode(ctx, tt.code)
			assert.Equal(t, tt.wantID != "", ok)
			assert.Equal(t, tt.wantID, sess.ID)
		})
	}

	// most recent activity beats id order
	require.NoError(t, store.UpdateWork(ctx, "b", WorkUpdate{Notes: strPtr("later")}))
	sess, ok := store.SessionByCode(ctx, "DUP")
	require.True(t, ok)
	assert.Equal(t, "b", sess.ID)
}

func TestStore_UpdateWork(t *testing.T) {
	ctx := context.Background()
	clock := setClock(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	store, _ := openStore(t, memkv.New())

	sess, err := store.CreateSession(ctx, "a1", "CODE1", "Mia")
	require.NoError(t, err)

	work := WorkUpdate{
		CanvasData:  &CanvasData{Elements: []json.RawMessage{json.RawMessage(`{"type":"line"}`)}},
		TextContent: strPtr("My family is big."),
	}
	*clock = clock.Add(time.Minute)
	require.NoError(t, store.UpdateWork(ctx, sess.ID, work))
	first, _ := store.CurrentSession(ctx)

	*clock = clock.Add(time.Minute)
	require.NoError(t, store.UpdateWork(ctx, sess.ID, work))
	second, _ := store.CurrentSession(ctx)

	assert.Equal(t, first.WorkData, second.WorkData, "same payload twice leaves the same data")
	assert.True(t, second.LastActivity.After(first.LastActivity))
	assert.Equal(t, sess.StartedAt, second.StartedAt)
	assert.Equal(t, "CODE1", second.AssignmentCode)

	// partial payloads keep the other fields
	require.NoError(t, store.UpdateWork(ctx, sess.ID, WorkUpdate{Notes: strPtr("check spelling")}))
	merged, _ := store.CurrentSession(ctx)
	assert.Equal(t, "My family is big.", merged.WorkData.TextContent)
	assert.Equal(t, "check spelling", merged.WorkData.Notes)
	assert.Equal(t, 1, merged.WorkData.ElementCount())
}

func TestStore_UpdateWork_clear(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	sess, err := store.CreateSession(ctx, "a1", "CODE1", "Mia")
	require.NoError(t, err)

	long := "This is a long answer that easily exceeds fifty characters of text."
	require.NoError(t, store.UpdateWork(ctx, sess.ID, WorkUpdate{TextContent: &long, Notes: strPtr("draft")}))
	require.True(t, store.ShouldPromptAccountCreation(ctx, sess.ID))

	require.NoError(t, store.UpdateWork(ctx, sess.ID, WorkUpdate{TextContent: strPtr(""), CanvasData: &CanvasData{}}))
	cleared, ok := store.CurrentSession(ctx)
	require.True(t, ok)
	assert.Empty(t, cleared.WorkData.TextContent)
	assert.Equal(t, "draft", cleared.WorkData.Notes, "fields not sent are kept")
	assert.Equal(t, 0, cleared.WorkData.ElementCount())
	assert.False(t, store.ShouldPromptAccountCreation(ctx, sess.ID))

	require.NoError(t, store.UpdateWork(ctx, sess.ID, WorkUpdate{Notes: strPtr("")}))
	cleared, _ = store.CurrentSession(ctx)
	assert.True(t, cleared.WorkData.IsEmpty())
}

func TestStore_UpdateWork_unknownID(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	_, err := store.CreateSession(ctx, "a1", "CODE1", "")
	require.NoError(t, err)
	before := store.AllSessions(ctx)

	assert.NoError(t, store.UpdateWork(ctx, "nope", WorkUpdate{TextContent: strPtr("x")}))
	assert.Equal(t, before, store.AllSessions(ctx))
}

func TestStore_roundTrip(t *testing.T) {
	ctx := context.Background()
	setClock(t, time.Date(2024, 3, 1, 9, 0, 0, 987654321, time.UTC))
	storage := memkv.New()
	store, _ := openStore(t, storage)

	sess, err := store.CreateSession(ctx, "a1", "CODE1", "Mia")
	require.NoError(t, err)
	require.NoError(t, store.UpdateWork(ctx, sess.ID, WorkUpdate{TextContent: strPtr("hello")}))
	want, _ := store.CurrentSession(ctx)
	require.NoError(t, store.Close())

	reopened, _ := openStore(t, storage)
	got, ok := reopened.CurrentSession(ctx)
	require.True(t, ok)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.True(t, want.LastActivity.Equal(got.LastActivity))
	assert.Equal(t, 987*time.Millisecond, time.Duration(got.StartedAt.Nanosecond()))
	assert.Equal(t, want.WorkData, got.WorkData)
}

func TestStore_corrupt(t *testing.T) {
	ctx := context.Background()
	storage := memkv.New()
	require.NoError(t, storage.SetItem(ctx, SessionsKey, "{not json"))
	store, logger := openStore(t, storage)

	assert.Empty(t, store.AllSessions(ctx))
	assert.Equal(t, 1, logger.Count("warning"))

	_, err := store.LoadSessions(ctx)
	assert.Equal(t, ErrCorruptStore, errors.Cause(err))
	assert.ErrorIs(t, err, ErrCorruptStore)

	// the next write replaces the corrupt data
	sess, err := store.CreateSession(ctx, "a1", "CODE1", "")
	require.NoError(t, err)
	sessions, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
	assert.Contains(t, sessions, sess.ID)
}

func TestStore_corruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "guest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"woe.guestSessions": "{}", trunc`), 0o600))

	logger := &testutil.Logger{}
	storage, err := filekv.Open(path, logger)
	require.NoError(t, err)
	store, err := Open(ctx, storage, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.Equal(t, 1, logger.Count("warning"))

	sess, err := store.CreateSession(ctx, "a1", "CODE1", "Mia")
	require.NoError(t, err)
	current, ok := store.CurrentSession(ctx)
	require.True(t, ok)
	assert.Equal(t, sess.ID, current.ID)

	require.NoError(t, store.ClearAllSessions(ctx))
	assert.Empty(t, store.AllSessions(ctx))
}

func TestStore_storageFailures(t *testing.T) {
	ctx := context.Background()
	storage := &brokenStorage{Store: memkv.New(), failGet: map[string]bool{}, failSet: map[string]bool{}}
	store, logger := openStore(t, storage)
	_, err := store.CreateSession(ctx, "a1", "CODE1", "")
	require.NoError(t, err)

	storage.failGet[SessionsKey] = true
	assert.Empty(t, store.AllSessions(ctx))
	assert.Equal(t, 1, logger.Count("warning"))
	_, err = store.CreateSession(ctx, "a2", "CODE2", "")
	assert.Equal(t, errStorageDown, errors.Cause(err))

	storage.failGet[SessionsKey] = false
	storage.failSet[SessionsKey] = true
	_, err = store.CreateSession(ctx, "a2", "CODE2", "")
	assert.Equal(t, errStorageDown, errors.Cause(err))
	assert.Len(t, store.AllSessions(ctx), 1, "failed writes leave the store unchanged")
}

func TestStore_SetCurrentSession(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	first, err := store.CreateSession(ctx, "a1", "CODE1", "")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "a2", "CODE2", "")
	require.NoError(t, err)

	require.NoError(t, store.SetCurrentSession(ctx, first.ID))
	current, ok := store.CurrentSession(ctx)
	require.True(t, ok)
	assert.Equal(t, first.ID, current.ID)

	assert.Equal(t, ErrSessionNotFound, store.SetCurrentSession(ctx, "nope"))
}

func TestStore_ClearSession(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t, memkv.New())
	first, err := store.CreateSession(ctx, "a1", "CODE1", "")
	require.NoError(t, err)
	second, err := store.CreateSession(ctx, "a2", "CODE2", "")
	require.NoError(t, err)

	// not current: pointer kept
	require.NoError(t, store.ClearSession(ctx, first.ID))
	current, ok := store.CurrentSession(ctx)
	require.True(t, ok)
	assert.Equal(t, second.ID, current.ID)

	// current: pointer removed
	require.NoError(t, store.ClearSession(ctx, second.ID))
	_, ok = store.CurrentSession(ctx)
	assert.False(t, ok)
	assert.Empty(t, store.AllSessions(ctx))

	assert.NoError(t, store.ClearSession(ctx, "nope"))
}

func TestStore_ClearAllSessions(t *testing.T) {
	ctx := context.Background()
	storage := memkv.New()
	store, _ := openStore(t, storage)
	for _, code := range []string{"CODE1", "CODE2", "CODE3"} {
		_, err := store.CreateSession(ctx, "a1", code, "")
		require.NoError(t, err)
	}

	require.NoError(t, store.ClearAllSessions(ctx))
	assert.Empty(t, store.AllSessions(ctx))
	_, ok := store.CurrentSession(ctx)
	assert.False(t, ok)
	_, ok, _ = storage.GetItem(ctx, VersionKey)
	assert.True(t, ok, "version survives clears")
}

func TestStore_concurrentWriters(t *testing.T) {
	ctx := context.Background()
	storage := memkv.New()
	tab1, log1 := openStore(t, storage)
	tab2, log2 := openStore(t, storage)

	_, err := tab1.CreateSession(ctx, "a1", "CODE1", "")
	require.NoError(t, err)
	_, err = tab2.CreateSession(ctx, "a2", "CODE2", "")
	require.NoError(t, err)

	assert.Equal(t, 0, log1.Count("warning"))
	assert.Equal(t, 1, log2.Count("warning"), "tab2 notices tab1's write")
	assert.Len(t, tab1.AllSessions(ctx), 2)

	v, _, _ := storage.GetItem(ctx, VersionKey)
	assert.Equal(t, "2", v)
}

func TestStore_Close(t *testing.T) {
	ctx := context.Background()
	storage := &brokenStorage{Store: memkv.New()}
	store, err := Open(ctx, storage, &testutil.Logger{})
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	assert.True(t, storage.closed)

	_, err = store.CreateSession(ctx, "a1", "CODE1", "")
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, ErrClosed, store.UpdateWork(ctx, "x", WorkUpdate{}))
	assert.Empty(t, store.AllSessions(ctx))
	assert.False(t, store.ShouldPromptAccountCreation(ctx, "x"))
}

func TestStore_ShouldPromptAccountCreation(t *testing.T) {
	ctx := context.Background()
	clock := setClock(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	store, _ := openStore(t, memkv.New(), WithPromptAfter(5*time.Minute))

	sess, err := store.CreateSession(ctx, "a1", "CODE1", "")
	require.NoError(t, err)
	assert.False(t, store.ShouldPromptAccountCreation(ctx, sess.ID))
	assert.False(t, store.ShouldPromptAccountCreation(ctx, "nope"))

	*clock = clock.Add(5*time.Minute + time.Second)
	assert.True(t, store.ShouldPromptAccountCreation(ctx, sess.ID))
}

func TestSession_ShouldPromptAccountCreation(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	elements := func(n int) *CanvasData {
		cd := &CanvasData{}
		for i := 0; i < n; i++ {
			cd.Elements = append(cd.Elements, json.RawMessage(`{}`))
		}
		return cd
	}
	text := func(n int) string {
		b := make([]rune, n)
		for i := range b {
			b[i] = 'é'
		}
		return string(b)
	}

	tests := []struct {
		name    string
		elapsed time.Duration
		work    *WorkData
		want    bool
	}{
		{name: "fresh, no work", elapsed: time.Minute},
		{name: "exactly 10 minutes", elapsed: 10 * time.Minute},
		{name: "over 10 minutes", elapsed: 10*time.Minute + time.Second, want: true},
		{name: "50 chars", work: &WorkData{TextContent: text(50)}},
		{name: "51 chars", work: &WorkData{TextContent: text(51)}, want: true},
		{name: "3 elements", work: &WorkData{CanvasData: elements(3)}},
		{name: "4 elements", work: &WorkData{CanvasData: elements(4)}, want: true},
		{name: "notes do not count", work: &WorkData{Notes: text(200)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := Session{StartedAt: start, LastActivity: start, WorkData: tt.work}
			assert.Equal(t, tt.want, sess.ShouldPromptAccountCreation(start.Add(tt.elapsed), DefaultPromptAfter))
		})
	}
}

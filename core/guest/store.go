package guest

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core"
)

const (
	SessionsKey       = "woe.guestSessions"
	CurrentSessionKey = "woe.currentGuestSession"
	VersionKey        = "woe.guestSessionsVersion"
)

var (
	// errors
	ErrCorruptStore    = errors.New("guest session storage is corrupt")
	ErrCodeInUse       = errors.New("a guest session already exists for this code")
	ErrSessionNotFound = errors.New("guest session not found")
	ErrClosed          = errors.New("guest session store is closed")

	NowFunc = time.Now // mockable
)

// Storage is a durable string key/value store scoped to one client.
type Storage interface {
	// GetItem returns false when the key is absent.
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	// RemoveItem is a no-op for absent keys.
	RemoveItem(ctx context.Context, key string) error
}

type Option func(*Store)

// WithPromptAfter overrides DefaultPromptAfter.
func WithPromptAfter(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.promptAfter = d
		}
	}
}

// Store keeps the guest sessions of a client in a Storage.
// All sessions live as one JSON object keyed by session id, next to the id of the current session.
// Writes bump a version counter; a writer finding a version it did not write logs a warning and wins.
type Store struct {
	storage     Storage
	logger      core.Logger
	promptAfter time.Duration

	mu      sync.Mutex
	version int64
	closed  bool
}

// Open returns a Store backed by storage. Close must be called when done.
func Open(ctx context.Context, storage Storage, logger core.Logger, opts ...Option) (*Store, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(storage, "storage"),
		vala.IsNotNil(logger, "logger"),
	).Check(); err != nil {
		return nil, err
	}

	s := &Store{
		storage:     storage,
		logger:      logger,
		promptAfter: DefaultPromptAfter,
	}
	for _, opt := range opts {
		opt(s)
	}

	version, err := s.readVersion(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "opening guest store")
	}
	s.version = version
	return s, nil
}

// Close releases the underlying storage when it is an io.Closer. Calls after the first are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.storage.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// PromptAfter returns the time threshold used by ShouldPromptAccountCreation.
func (s *Store) PromptAfter() time.Duration {
	return s.promptAfter
}

// CreateSession starts a new session for the assignment and makes it current.
// Only one session per access code may exist; use SessionByCode to resume it.
func (s *Store) CreateSession(ctx context.Context, assignmentID, code, tempName string) (Session, error) {
	code = core.CleanCode(code)
	var flds []core.FieldError
	if assignmentID == "" {
		flds = append(flds, core.FieldError{Field: "assignmentId", Error: "this field is required"})
	}
	if code == "" {
		flds = append(flds, core.FieldError{Field: "assignmentCode", Error: "this field is required"})
	}
	if flds != nil {
		return Session{}, core.NewValidationError(nil, flds...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Session{}, ErrClosed
	}

	sessions, err := s.loadForWrite(ctx)
	if err != nil {
		return Session{}, err
	}
	if _, ok := findByCode(sessions, code); ok {
		return Session{}, ErrCodeInUse
	}

	tstamp := now()
	sess := Session{
		ID:             uuid.New().String(),
		AssignmentID:   assignmentID,
		AssignmentCode: code,
		StartedAt:      tstamp,
		LastActivity:   tstamp,
		TempName:       core.CleanString(tempName),
	}
	sessions[sess.ID] = sess

	if err := s.save(ctx, sessions); err != nil {
		return Session{}, err
	}
	if err := s.storage.SetItem(ctx, CurrentSessionKey, sess.ID); err != nil {
		return Session{}, errors.Wrap(err, "setting current guest session")
	}
	return sess, nil
}

// AllSessions returns every stored session. Unreadable or corrupt storage yields an empty map.
func (s *Store) AllSessions(ctx context.Context) map[string]Session {
	sessions, err := s.LoadSessions(ctx)
	if err != nil {
		s.logger.Warn("reading guest sessions", map[string]interface{}{"error": err.Error()})
		return map[string]Session{}
	}
	return sessions
}

// LoadSessions is AllSessions for callers that need to tell an empty store from a broken one.
// Corrupt data is reported as ErrCorruptStore.
func (s *Store) LoadSessions(ctx context.Context) (map[string]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.load(ctx)
}

// CurrentSession returns the session the client last created or resumed.
func (s *Store) CurrentSession(ctx context.Context) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Session{}, false
	}

	id, ok, err := s.storage.GetItem(ctx, CurrentSessionKey)
	if err != nil {
		s.logger.Warn("reading current guest session", map[string]interface{}{"error": err.Error()})
		return Session{}, false
	}
	if !ok || id == "" {
		return Session{}, false
	}
	sessions := s.loadSoft(ctx)
	sess, ok := sessions[id]
	return sess, ok
}

// SetCurrentSession marks an existing session as current.
func (s *Store) SetCurrentSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.loadSoft(ctx)[id]; !ok {
		return ErrSessionNotFound
	}
	return errors.Wrap(s.storage.SetItem(ctx, CurrentSessionKey, id), "setting current guest session")
}

// SessionByCode finds the session of an access code (case-insensitive).
func (s *Store) SessionByCode(ctx context.Context, code string) (Session, bool) {
	code = core.CleanCode(code)
	if code == "" {
		return Session{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Session{}, false
	}
	return findByCode(s.loadSoft(ctx), code)
}

// UpdateWork merges upd into the session work and refreshes its LastActivity.
// Fields upd does not carry keep their saved value. Unknown ids are ignored.
func (s *Store) UpdateWork(ctx context.Context, id string, upd WorkUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	sessions, err := s.loadForWrite(ctx)
	if err != nil {
		return err
	}
	sess, ok := sessions[id]
	if !ok {
		return nil
	}

	var merged WorkData
	if sess.WorkData != nil {
		merged = *sess.WorkData
	}
	merged = merged.apply(upd)
	sess.WorkData = &merged
	sess.LastActivity = now()
	sessions[id] = sess

	return s.save(ctx, sessions)
}

// ClearSession removes a session. The current marker is cleared when it pointed at it.
func (s *Store) ClearSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	sessions, err := s.loadForWrite(ctx)
	if err != nil {
		return err
	}
	if _, ok := sessions[id]; ok {
		delete(sessions, id)
		if err := s.save(ctx, sessions); err != nil {
			return err
		}
	}

	current, ok, err := s.storage.GetItem(ctx, CurrentSessionKey)
	if err != nil {
		return errors.Wrap(err, "reading current guest session")
	}
	if ok && current == id {
		return errors.Wrap(s.storage.RemoveItem(ctx, CurrentSessionKey), "clearing current guest session")
	}
	return nil
}

// ClearAllSessions removes every session and the current marker.
func (s *Store) ClearAllSessions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := s.storage.RemoveItem(ctx, SessionsKey); err != nil {
		return errors.Wrap(err, "clearing guest sessions")
	}
	if err := s.storage.RemoveItem(ctx, CurrentSessionKey); err != nil {
		return errors.Wrap(err, "clearing current guest session")
	}
	return s.bumpVersion(ctx)
}

// ShouldPromptAccountCreation reports whether the guest of session id should be offered an account.
// Unknown ids never prompt.
func (s *Store) ShouldPromptAccountCreation(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	sess, ok := s.loadSoft(ctx)[id]
	if !ok {
		return false
	}
	return sess.ShouldPromptAccountCreation(NowFunc(), s.promptAfter)
}

// load reads the sessions map; callers hold s.mu.
func (s *Store) load(ctx context.Context) (map[string]Session, error) {
	raw, ok, err := s.storage.GetItem(ctx, SessionsKey)
	if err != nil {
		return nil, errors.Wrap(err, "reading guest sessions")
	}
	sessions := map[string]Session{}
	if !ok || raw == "" {
		return sessions, nil
	}
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, errors.Wrap(ErrCorruptStore, err.Error())
	}
	if sessions == nil { // "null"
		sessions = map[string]Session{}
	}
	return sessions, nil
}

func (s *Store) loadSoft(ctx context.Context) map[string]Session {
	sessions, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("reading guest sessions", map[string]interface{}{"error": err.Error()})
		return map[string]Session{}
	}
	return sessions
}

// loadForWrite treats corrupt data as empty, so the next save replaces it.
// Storage failures are returned as is: writing after a failed read could wipe sessions.
func (s *Store) loadForWrite(ctx context.Context) (map[string]Session, error) {
	sessions, err := s.load(ctx)
	if errors.Cause(err) == ErrCorruptStore {
		s.logger.Warn("discarding corrupt guest sessions", map[string]interface{}{"error": err.Error()})
		return map[string]Session{}, nil
	}
	return sessions, err
}

func (s *Store) save(ctx context.Context, sessions map[string]Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return errors.Wrap(err, "encoding guest sessions")
	}
	if err := s.storage.SetItem(ctx, SessionsKey, string(data)); err != nil {
		return errors.Wrap(err, "writing guest sessions")
	}
	return s.bumpVersion(ctx)
}

func (s *Store) bumpVersion(ctx context.Context) error {
	stored, err := s.readVersion(ctx)
	if err != nil {
		return err
	}
	if stored != s.version {
		s.logger.Warn("guest sessions were modified by another writer", map[string]interface{}{
			"expectedVersion": s.version,
			"storedVersion":   stored,
		})
	}
	next := stored
	if s.version > next {
		next = s.version
	}
	next++
	if err := s.storage.SetItem(ctx, VersionKey, strconv.FormatInt(next, 10)); err != nil {
		return errors.Wrap(err, "writing guest sessions version")
	}
	s.version = next
	return nil
}

func (s *Store) readVersion(ctx context.Context) (int64, error) {
	raw, ok, err := s.storage.GetItem(ctx, VersionKey)
	if err != nil {
		return 0, errors.Wrap(err, "reading guest sessions version")
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("ignoring invalid guest sessions version", map[string]interface{}{"version": raw})
		return 0, nil
	}
	return v, nil
}

// findByCode picks the most recently active session of code; ties go to the smallest id.
func findByCode(sessions map[string]Session, code string) (Session, bool) {
	var matches []Session
	for _, sess := range sessions {
		if core.CleanCode(sess.AssignmentCode) == code {
			matches = append(matches, sess)
		}
	}
	if len(matches) == 0 {
		return Session{}, false
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].LastActivity.Equal(matches[j].LastActivity) {
			return matches[i].LastActivity.After(matches[j].LastActivity)
		}
		return matches[i].ID < matches[j].ID
	})
	return matches[0], true
}

func now() time.Time {
	return NowFunc().UTC().Truncate(time.Millisecond)
}

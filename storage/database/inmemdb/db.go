// Package inmemdb implements the repositories in memory, for tests and local runs without PostgreSQL.
package inmemdb

import (
	"context"
	"sync"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/assignment"
	"github.com/writeonenglish/woe/core/submission"
	"github.com/writeonenglish/woe/core/user"
)

type (
	enrollmentKey struct {
		classID   string
		studentID string
	}

	tables struct {
		users       map[string]user.User
		classes     map[string]assignment.Class
		assignments map[string]assignment.Assignment
		enrollments map[enrollmentKey]struct{}
		submissions map[string]submission.Submission
		progress    map[string]submission.Progress
	}

	// DB holds every table behind one lock.
	DB struct {
		mu sync.RWMutex
		tables

		txMu sync.Mutex
	}
)

func Open() *DB {
	return &DB{tables: tables{
		users:       make(map[string]user.User),
		classes:     make(map[string]assignment.Class),
		assignments: make(map[string]assignment.Assignment),
		enrollments: make(map[enrollmentKey]struct{}),
		submissions: make(map[string]submission.Submission),
		progress:    make(map[string]submission.Progress),
	}}
}

func (t tables) clone() tables {
	c := tables{
		users:       make(map[string]user.User, len(t.users)),
		classes:     make(map[string]assignment.Class, len(t.classes)),
		assignments: make(map[string]assignment.Assignment, len(t.assignments)),
		enrollments: make(map[enrollmentKey]struct{}, len(t.enrollments)),
		submissions: make(map[string]submission.Submission, len(t.submissions)),
		progress:    make(map[string]submission.Progress, len(t.progress)),
	}
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.classes {
		c.classes[k] = v
	}
	for k, v := range t.assignments {
		c.assignments[k] = v
	}
	for k, v := range t.enrollments {
		c.enrollments[k] = v
	}
	for k, v := range t.submissions {
		c.submissions[k] = v
	}
	for k, v := range t.progress {
		c.progress[k] = v
	}
	return c
}

// WithinTx restores every table when fn fails. Transactions run one at a time.
func (db *DB) WithinTx(_ context.Context, fn func(exec core.DBExecutor) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.RLock()
	snapshot := db.tables.clone()
	db.mu.RUnlock()

	if err := fn(nil); err != nil {
		db.mu.Lock()
		db.tables = snapshot
		db.mu.Unlock()
		return err
	}
	return nil
}

var _ core.Transactor = (*DB)(nil)

// Enrolled reports whether the student is enrolled in the class.
func (db *DB) Enrolled(classID, studentID string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.enrollments[enrollmentKey{classID, studentID}]
	return ok
}

// Counts returns the number of users, submissions & progress records.
func (db *DB) Counts() (users, submissions, progress int) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.users), len(db.submissions), len(db.progress)
}

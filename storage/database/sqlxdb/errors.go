// Package sqlxdb implements the repositories on PostgreSQL with sqlx.
package sqlxdb

import (
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const pqUniqueViolation = "23505"

// uniqueViolation returns the name of the violated unique constraint, if any.
func uniqueViolation(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint
	}
	return ""
}

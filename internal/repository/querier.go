package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

// Querier is the handle repositories run against. Both *sqlx.DB and *sqlx.Tx
// satisfy it, so the transaction coordinator can bind a repository to an open
// transaction without the repository knowing.
type Querier = sqlx.ExtContext

// mapStoreError translates driver-level failures into the typed taxonomy:
// unique violations become duplicate errors, serialization failures become the
// retryable stale-state condition. Anything else passes through for the caller
// to wrap.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return mapUniqueViolation(pqErr)
		case "40001", "40P01":
			return appErrors.Wrap(err, appErrors.ErrStaleState.Code, appErrors.ErrStaleState.Status, appErrors.ErrStaleState.Message)
		}
	}
	return err
}

// mapUniqueViolation picks the duplicate code from the violated constraint.
// Constraint names follow the schema convention <table>_<column>_key.
func mapUniqueViolation(pqErr *pq.Error) error {
	switch {
	case strings.Contains(pqErr.Constraint, "uid"):
		return appErrors.Wrap(pqErr, appErrors.ErrDuplicateGUID.Code, appErrors.ErrDuplicateGUID.Status, appErrors.ErrDuplicateGUID.Message)
	case strings.Contains(pqErr.Constraint, "name"):
		return appErrors.Wrap(pqErr, appErrors.ErrDuplicateName.Code, appErrors.ErrDuplicateName.Status, appErrors.ErrDuplicateName.Message)
	case strings.Contains(pqErr.Constraint, "path"):
		return appErrors.Wrap(pqErr, appErrors.ErrIllegalCalendar.Code, appErrors.ErrIllegalCalendar.Status, "collection path already exists")
	}
	return appErrors.Wrap(pqErr, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unique constraint violated")
}

// noRows reports whether err is the store's empty-result condition.
func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

package recordset

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// ErrDuplicateModel is returned when a record type name is registered twice.
var ErrDuplicateModel = errors.New("model already registered")

// ErrUnresolvedReference is returned when a relationship target was never
// registered before first use.
var ErrUnresolvedReference = errors.New("unresolved model reference")

// ErrInvalidLookup is returned when a filter lookup uses an unknown operator
// or an invalid field name.
var ErrInvalidLookup = errors.New("invalid lookup")

// ErrInvalidArgument is returned for out-of-domain arguments such as a
// negative limit or offset.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrNotFound is returned by Get when no row matches.
var ErrNotFound = errors.New("record not found")

// ErrMultipleObjects is returned by Get when more than one row matches.
var ErrMultipleObjects = errors.New("multiple records returned")

// ErrIntegrity is returned when the backend rejects a write due to a
// uniqueness, nullability, or foreign-key constraint. The transaction that
// triggered it is rolled back before the error is surfaced.
var ErrIntegrity = errors.New("integrity constraint violated")

// ErrConfirmationRequired is returned by Delete when no conditions are
// given; use DeleteAll to confirm a full-table delete.
var ErrConfirmationRequired = errors.New("deleting all rows requires confirmation")

// ErrMigrationOrder is returned when migration steps cannot be ordered,
// e.g. a foreign-key dependency cycle or a missing target at migration time.
var ErrMigrationOrder = errors.New("migration ordering failed")

// ErrIndexRange is returned by At when the index is past the end of the
// result set.
var ErrIndexRange = errors.New("index out of range")

// wrapIntegrity maps driver constraint errors onto ErrIntegrity so callers
// can test with errors.Is regardless of which constraint fired.
func wrapIntegrity(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return errors.Join(ErrIntegrity, err)
	}
	return err
}

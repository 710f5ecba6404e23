package db

import (
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/clinicledger/internal/platform/apperr"
)

// Classify turns a driver error into the application taxonomy. A missing row
// or a dangling reference is NotFound. Text the server can never store is a
// ValidationError, since retrying it cannot succeed. Everything else is a
// PersistenceError. resource names what was being read or written, e.g.
// "clinical event".
func Classify(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(resource)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation:
			return errors.Wrapf(apperr.NotFound("referenced record"), "%s: %s", resource, pgErr.ConstraintName)
		case pgerrcode.UntranslatableCharacter, pgerrcode.CharacterNotInRepertoire, pgerrcode.InvalidTextRepresentation:
			return apperr.Validationf("%s contains text that cannot be stored", resource)
		}
	}
	return apperr.Persistence(err, resource)
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

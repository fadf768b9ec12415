package query

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrUnknownField is returned when a column reference does not resolve to
	// a declared field
	ErrUnknownField = errors.New("unknown field")

	// ErrUnknownRelation is returned when a path segment does not resolve to a
	// declared relationship
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrUnknownAnnotation is returned when an annotation alias is referenced
	// but not registered on the builder
	ErrUnknownAnnotation = errors.New("unknown annotation")

	// ErrUnsupportedLookup is returned when a lookup keyword has no condition
	// mapping
	ErrUnsupportedLookup = errors.New("unsupported lookup")

	// ErrUpdateAcrossRelations is returned when an update is attempted on a
	// builder that joined related tables
	ErrUpdateAcrossRelations = errors.New("update across relations is not supported")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")
)

// ConvertDBError converts driver-specific errors to query errors. Both
// PostgreSQL drivers shipped with the module are recognized; anything else is
// passed through unmodified.
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return convertSQLState(pgErr.Code, pgErr.Detail, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return convertSQLState(string(pqErr.Code), pqErr.Detail, err)
	}

	return err
}

func convertSQLState(code, detail string, original error) error {
	switch code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", ErrUniqueViolation, detail)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %s", ErrForeignKeyViolation, detail)
	case "23502": // not_null_violation
		return fmt.Errorf("%w: %s", ErrNotNullViolation, detail)
	case "23514": // check_violation
		return fmt.Errorf("%w: %s", ErrCheckViolation, detail)
	}
	return original
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnknownField returns true if the error is ErrUnknownField
func IsUnknownField(err error) bool {
	return errors.Is(err, ErrUnknownField)
}

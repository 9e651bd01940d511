package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/hearth/internal/remote"
)

// PostgreSQL error codes
const (
	uniqueViolationCode       = "23505"
	foreignKeyViolationCode   = "23503"
	checkViolationCode        = "23514"
	notNullViolationCode      = "23502"
	invalidTextCode           = "22P02"
	invalidJSONCode           = "22032"
	insufficientPrivilegeCode = "42501"
	invalidAuthorizationCode  = "28000"
	invalidPasswordCode       = "28P01"
	adminShutdownCode         = "57P01"
	serializationFailureCode  = "40001"
	deadlockDetectedCode      = "40P01"
)

// MapError maps a database error to the remote store's error vocabulary.
// Constraint and data errors become remote.ErrInvalidDocument, privilege
// errors remote.ErrPermissionDenied, and connection-level failures
// remote.ErrUnavailable. The original error stays in the chain.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", remote.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode, foreignKeyViolationCode, checkViolationCode,
			notNullViolationCode, invalidTextCode, invalidJSONCode:
			return fmt.Errorf("%w: constraint %s: %w", remote.ErrInvalidDocument, constraintOf(pgErr), err)
		case insufficientPrivilegeCode, invalidAuthorizationCode, invalidPasswordCode:
			return fmt.Errorf("%w: %w", remote.ErrPermissionDenied, err)
		case adminShutdownCode, serializationFailureCode, deadlockDetectedCode:
			return fmt.Errorf("%w: %w", remote.ErrUnavailable, err)
		}
		// Class 08: connection exception; class 53: insufficient resources.
		if len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53") {
			return fmt.Errorf("%w: %w", remote.ErrUnavailable, err)
		}
		return err
	}

	if pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", remote.ErrUnavailable, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", remote.ErrUnavailable, err)
	}

	return err
}

func constraintOf(pgErr *pgconn.PgError) string {
	switch {
	case pgErr.ConstraintName != "":
		return pgErr.ConstraintName
	case pgErr.ColumnName != "":
		return pgErr.ColumnName
	}
	return pgErr.Code
}

// IsUniqueViolation checks if the given error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// IsCheckConstraintViolation checks if the given error is a PostgreSQL check constraint violation.
func IsCheckConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == checkViolationCode
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict marks a transaction attempt that lost a race and may be retried
// as a whole.
var ErrConflict = errors.New("transaction conflict")

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateUniqueViolation      = "23505"
	sqlStateForeignKeyViolation  = "23503"
	sqlStateCheckViolation       = "23514"

	// class 22 covers out-of-range numbers and malformed values
	sqlStateClassDataException = "22"
)

func classifyNotFound(err error, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return classify(err)
}

// classify maps driver errors onto the domain taxonomy. Context errors pass
// through unchanged so callers can tell a deadline from an outage.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, ErrConflict) || domain.ErrorCode(err) != domain.CodeInternal {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable, sqlStateUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case sqlStateForeignKeyViolation:
			return domain.ErrNotFound
		case sqlStateCheckViolation:
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, pgErr.ConstraintName)
		}
		if strings.HasPrefix(pgErr.Code, sqlStateClassDataException) {
			return fmt.Errorf("%w: %s (SQLSTATE %s)", domain.ErrInvalidArgument, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}

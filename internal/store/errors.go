package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"alliance.ledger/internal/ledger"
)

const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
	checkViolation      = "23514"
)

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == code
}

// notFound turns an empty result into ledger.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return err
}

// balanceError maps the earnings CHECK constraints to ErrInsufficientFunds;
// they only fire if a debit slipped past the in-process check.
func balanceError(err error) error {
	if hasCode(err, checkViolation) {
		return ledger.ErrInsufficientFunds
	}
	return err
}

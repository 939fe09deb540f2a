package ledger_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alliance.ledger/internal/ledger"
)

func TestStoragePassesDomainErrorsThrough(t *testing.T) {
	for _, domain := range []error{
		ledger.ErrNotFound,
		ledger.ErrInsufficientFunds,
		ledger.ErrAlreadyWithdrawnToday,
		fmt.Errorf("lookup: %w", ledger.ErrMemberExists),
		ledger.Invalid("amount", "must be positive"),
	} {
		err := ledger.Storage("get earnings", domain)

		assert.Same(t, domain, err)
		assert.True(t, ledger.IsDomain(err), "%v", err)
		assert.NotErrorIs(t, err, ledger.ErrStorage)
	}
}

func TestStorageWrapsDriverErrors(t *testing.T) {
	err := ledger.Storage("get earnings", io.EOF)

	var se *ledger.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "get earnings", se.Op)
	assert.ErrorIs(t, err, ledger.ErrStorage)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, ledger.IsDomain(err))
	assert.Equal(t, "storage: get earnings: EOF", err.Error())
}

func TestStorageDoesNotWrapTwice(t *testing.T) {
	inner := ledger.Storage("ping", io.ErrUnexpectedEOF)
	outer := ledger.Storage("create member", inner)

	assert.Same(t, inner, outer)
	assert.NoError(t, ledger.Storage("ping", nil))
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("decode: %w", ledger.Invalid("page", "must be at least 1"))

	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "page", ve.Field)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.True(t, ledger.IsDomain(err))
	assert.False(t, ledger.IsDomain(errors.New("connection refused")))
	assert.False(t, ledger.IsDomain(nil))
}

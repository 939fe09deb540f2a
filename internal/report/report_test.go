package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	member := uuid.New()
	id1, id2 := uuid.New(), uuid.New()
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT seq, id, created_at, description, details, amount\s+FROM transactions`).
		WithArgs(member.String()).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "created_at", "description", "details", "amount"}).
			AddRow(int64(1), id1.String(), at, "Wallet Deposit", "", "500.00").
			AddRow(int64(2), id2.String(), at.Add(time.Minute), "Olympus Package Purchased", "c-1", "-500.00"))

	var buf bytes.Buffer
	n, err := New(db).WriteTransactions(context.Background(), &buf, member)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "seq,id,created_at,description,details,amount,balance", lines[0])
	assert.Equal(t, "1,"+id1.String()+",2024-06-01T10:00:00Z,Wallet Deposit,,500.00,500.00", lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ",-500.00,0.00"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteTransactionsQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM transactions`).WillReturnError(errors.New("connection reset"))

	var buf bytes.Buffer
	_, err = New(db).WriteTransactions(context.Background(), &buf, uuid.New())
	assert.ErrorContains(t, err, "connection reset")
	assert.Zero(t, buf.Len())
}

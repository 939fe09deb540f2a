// Package report exports ledger data for accounting over database/sql.
package report

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var header = []string{"seq", "id", "created_at", "description", "details", "amount", "balance"}

type Reporter struct {
	db *sql.DB
}

func New(db *sql.DB) *Reporter {
	return &Reporter{db: db}
}

// WriteTransactions writes the member's transaction log as CSV, oldest
// first, with a running balance column.
func (r *Reporter) WriteTransactions(ctx context.Context, w io.Writer, memberID uuid.UUID) (int, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT seq, id, created_at, description, details, amount
        FROM transactions
        WHERE member_id = $1
        ORDER BY created_at, seq
    `, memberID)
	if err != nil {
		return 0, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := csv.NewWriter(w)
	if err := out.Write(header); err != nil {
		return 0, err
	}

	var (
		n       int
		balance = decimal.Zero
	)
	for rows.Next() {
		var (
			seq         int64
			id          uuid.UUID
			createdAt   time.Time
			description string
			details     string
			amount      decimal.Decimal
		)
		if err := rows.Scan(&seq, &id, &createdAt, &description, &details, &amount); err != nil {
			return n, fmt.Errorf("scan transaction: %w", err)
		}
		balance = balance.Add(amount)
		err := out.Write([]string{
			fmt.Sprint(seq),
			id.String(),
			createdAt.UTC().Format(time.RFC3339Nano),
			description,
			details,
			amount.StringFixed(2),
			balance.StringFixed(2),
		})
		if err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("read transactions: %w", err)
	}

	out.Flush()
	return n, out.Error()
}

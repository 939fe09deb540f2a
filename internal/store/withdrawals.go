package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"alliance.ledger/internal/ledger"
)

// CreateWithdrawal debits the source balance and files a PENDING request.
// A replayed idempotency key with the same payload returns the stored
// request and replayed=true.
func (s *Store) CreateWithdrawal(ctx context.Context, in ledger.NewWithdrawal) (w ledger.WithdrawalRequest, replayed bool, err error) {
	err = s.inTx(ctx, "create withdrawal", func(tx pgx.Tx) error {
		e, err := lockEarnings(ctx, tx, in.MemberID)
		if err != nil {
			return err
		}

		existing, err := getWithdrawalByIdempotency(ctx, tx, in.MemberID, in.IdempotencyKey)
		if err == nil {
			if !existing.SamePayload(in) {
				return ledger.ErrIdempotencyConflict
			}
			w, replayed = existing, true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		if !in.DayStart.IsZero() {
			done, err := withdrawnSince(ctx, tx, in.MemberID, in.DayStart)
			if err != nil {
				return err
			}
			if done {
				return ledger.ErrAlreadyWithdrawnToday
			}
		}

		if err := e.Debit(in.Source.Amounts(in.Amount)); err != nil {
			return err
		}

		w, err = insertWithdrawal(ctx, tx, in)
		if err != nil {
			return err
		}
		if _, err := saveEarnings(ctx, tx, e); err != nil {
			return err
		}
		_, err = insertTransaction(ctx, tx, ledger.TransactionRecord{
			MemberID:    in.MemberID,
			Description: ledger.DescriptionWithdrawal,
			Details:     w.ID.String(),
			Amount:      in.Amount.Neg(),
		})
		return err
	})
	if err != nil {
		return ledger.WithdrawalRequest{}, false, err
	}
	return w, replayed, nil
}

// WithdrawnSince reports whether the member filed a request at or after since
// that has not been rejected.
func (s *Store) WithdrawnSince(ctx context.Context, memberID uuid.UUID, since time.Time) (bool, error) {
	var done bool
	err := s.inReadTx(ctx, "withdrawn since", func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)", memberID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ledger.ErrNotFound
		}
		var err error
		done, err = withdrawnSince(ctx, tx, memberID, since)
		return err
	})
	return done, err
}

func withdrawnSince(ctx context.Context, tx pgx.Tx, memberID uuid.UUID, since time.Time) (bool, error) {
	var done bool
	err := tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM withdrawal_requests
            WHERE member_id = $1 AND created_at >= $2 AND status <> $3
        )
    `, memberID, since, ledger.StatusRejected).Scan(&done)
	return done, err
}

func (s *Store) GetWithdrawal(ctx context.Context, id uuid.UUID) (ledger.WithdrawalRequest, error) {
	w, err := scanWithdrawal(s.pool.QueryRow(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE id = $1", id))
	if err != nil {
		return ledger.WithdrawalRequest{}, ledger.Storage("get withdrawal", notFound(err))
	}
	return w, nil
}

// TransitionWithdrawal locks the request row, applies t and, for a refunded
// rejection, credits the amount back in the same transaction.
func (s *Store) TransitionWithdrawal(ctx context.Context, t ledger.Transition) (ledger.WithdrawalRequest, error) {
	var updated ledger.WithdrawalRequest
	err := s.inTx(ctx, "transition withdrawal", func(tx pgx.Tx) error {
		w, err := scanWithdrawal(tx.QueryRow(ctx,
			"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE id = $1 FOR UPDATE", t.RequestID))
		if err != nil {
			return notFound(err)
		}

		updated, err = t.Apply(w)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
            UPDATE withdrawal_requests
            SET status = $2, reject_note = $3, approver_id = $4, approver_username = $5, updated_at = $6
            WHERE id = $1 AND status = $7
        `,
			updated.ID,
			updated.Status,
			updated.RejectNote,
			updated.ApproverID,
			updated.ApproverUsername,
			updated.UpdatedAt,
			ledger.StatusPending,
		)
		if err != nil {
			return err
		}

		if !t.Refund || updated.Status != ledger.StatusRejected {
			return nil
		}
		e, err := lockEarnings(ctx, tx, updated.MemberID)
		if err != nil {
			return err
		}
		if err := e.Restore(updated.Source.Amounts(updated.Amount)); err != nil {
			return err
		}
		if _, err := saveEarnings(ctx, tx, e); err != nil {
			return err
		}
		_, err = insertTransaction(ctx, tx, ledger.TransactionRecord{
			MemberID:    updated.MemberID,
			Description: ledger.DescriptionWithdrawalRefund,
			Details:     updated.ID.String(),
			Amount:      updated.Amount,
		})
		return err
	})
	if err != nil {
		return ledger.WithdrawalRequest{}, err
	}
	return updated, nil
}

// ListWithdrawals returns one page of every status bucket, newest first,
// with each bucket's total.
func (s *Store) ListWithdrawals(ctx context.Context, page, pageSize int) (*ledger.Book, error) {
	book := ledger.NewBook()
	err := s.inReadTx(ctx, "list withdrawals", func(tx pgx.Tx) error {
		counts := make(map[ledger.Status]int, len(ledger.Statuses))
		rows, err := tx.Query(ctx, "SELECT status, COUNT(*) FROM withdrawal_requests GROUP BY status")
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				status ledger.Status
				count  int
			)
			if err := rows.Scan(&status, &count); err != nil {
				rows.Close()
				return err
			}
			counts[status] = count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, status := range ledger.Statuses {
			reqs, err := withdrawalPage(ctx, tx, status, page, pageSize)
			if err != nil {
				return err
			}
			book.Load(status, reqs, counts[status])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

func withdrawalPage(ctx context.Context, tx pgx.Tx, status ledger.Status, page, pageSize int) ([]ledger.WithdrawalRequest, error) {
	rows, err := tx.Query(ctx, `
        SELECT `+withdrawalColumns+`
        FROM withdrawal_requests
        WHERE status = $1
        ORDER BY COALESCE(updated_at, created_at) DESC, created_at DESC
        LIMIT $2 OFFSET $3
    `, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []ledger.WithdrawalRequest{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, w)
	}
	return reqs, rows.Err()
}

func insertWithdrawal(ctx context.Context, tx pgx.Tx, in ledger.NewWithdrawal) (ledger.WithdrawalRequest, error) {
	return scanWithdrawal(tx.QueryRow(ctx, `
        INSERT INTO withdrawal_requests
            (id, member_id, amount, fee, source, bank_name, account_name, account_number, status, idempotency_key)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING `+withdrawalColumns,
		uuid.New(),
		in.MemberID,
		in.Amount,
		in.Fee,
		in.Source,
		in.Bank.BankName,
		in.Bank.AccountName,
		in.Bank.AccountNumber,
		ledger.StatusPending,
		in.IdempotencyKey,
	))
}

func getWithdrawalByIdempotency(ctx context.Context, tx pgx.Tx, memberID uuid.UUID, key string) (ledger.WithdrawalRequest, error) {
	return scanWithdrawal(tx.QueryRow(ctx, `
        SELECT `+withdrawalColumns+`
        FROM withdrawal_requests
        WHERE member_id = $1 AND idempotency_key = $2
    `, memberID, key))
}

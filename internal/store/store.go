// Package store persists the ledger in Postgres. Every read-check-write runs
// in one transaction holding row locks on the rows it changes.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"alliance.ledger/internal/ledger"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return ledger.Storage("ping", s.pool.Ping(ctx))
}

// inTx runs fn in a read-write transaction. Domain errors from fn pass
// through; anything else comes back as a *ledger.StorageError.
func (s *Store) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	return s.tx(ctx, op, pgx.TxOptions{}, fn)
}

// inReadTx runs fn in a read-only snapshot so counts and pages agree.
func (s *Store) inReadTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	return s.tx(ctx, op, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (s *Store) tx(ctx context.Context, op string, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return ledger.Storage(op, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return ledger.Storage(op, err)
	}
	return ledger.Storage(op, tx.Commit(ctx))
}

func (s *Store) CreateMember(ctx context.Context, m ledger.Member) (ledger.Member, error) {
	err := s.inTx(ctx, "create member", func(tx pgx.Tx) error {
		var err error
		m, err = scanMember(tx.QueryRow(ctx, `
            INSERT INTO members (id, username, sponsor_id)
            VALUES ($1, $2, $3)
            RETURNING `+memberColumns,
			m.ID, m.Username, m.SponsorID))
		if err != nil {
			if isUniqueViolation(err) {
				return ledger.ErrMemberExists
			}
			if hasCode(err, foreignKeyViolation) {
				return ledger.Invalid("sponsor_id", "unknown member")
			}
			return err
		}
		_, err = tx.Exec(ctx, "INSERT INTO earnings (member_id) VALUES ($1)", m.ID)
		return err
	})
	if err != nil {
		return ledger.Member{}, err
	}
	return m, nil
}

func (s *Store) GetMember(ctx context.Context, id uuid.UUID) (ledger.Member, error) {
	m, err := scanMember(s.pool.QueryRow(ctx,
		"SELECT "+memberColumns+" FROM members WHERE id = $1", id))
	if err != nil {
		return ledger.Member{}, ledger.Storage("get member", notFound(err))
	}
	return m, nil
}

// ListReferrals returns one page of the members the level reaches in the
// sponsor tree below memberID, oldest first, and their count.
func (s *Store) ListReferrals(ctx context.Context, memberID uuid.UUID, level ledger.ReferralLevel, page, pageSize int) ([]ledger.Referral, int, error) {
	minDepth, maxDepth := level.Depths()
	var (
		refs  []ledger.Referral
		total int
	)
	err := s.inReadTx(ctx, "list referrals", func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)", memberID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ledger.ErrNotFound
		}

		rows, err := tx.Query(ctx, `
            WITH RECURSIVE downline AS (
                SELECT `+memberColumns+`, 1 AS depth
                FROM members
                WHERE sponsor_id = $1
                UNION ALL
                SELECT m.id, m.username, m.sponsor_id, m.created_at, d.depth + 1
                FROM members m
                JOIN downline d ON m.sponsor_id = d.id
                WHERE d.depth < $3
            )
            SELECT `+memberColumns+`, depth, COUNT(*) OVER ()
            FROM downline
            WHERE depth >= $2
            ORDER BY created_at, id
            LIMIT $4 OFFSET $5
        `, memberID, minDepth, maxDepth, pageSize, (page-1)*pageSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r ledger.Referral
			if err := rows.Scan(&r.Member.ID, &r.Member.Username, &r.Member.SponsorID, &r.Member.CreatedAt, &r.Depth, &total); err != nil {
				return err
			}
			refs = append(refs, r)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(refs) > 0 || page == 1 {
			return nil
		}
		// past the last page the window count has no row to ride on
		return tx.QueryRow(ctx, `
            WITH RECURSIVE downline AS (
                SELECT id, 1 AS depth FROM members WHERE sponsor_id = $1
                UNION ALL
                SELECT m.id, d.depth + 1
                FROM members m
                JOIN downline d ON m.sponsor_id = d.id
                WHERE d.depth < $3
            )
            SELECT COUNT(*) FROM downline WHERE depth >= $2
        `, memberID, minDepth, maxDepth).Scan(&total)
	})
	if err != nil {
		return nil, 0, err
	}
	return refs, total, nil
}

func (s *Store) GetEarnings(ctx context.Context, memberID uuid.UUID) (ledger.Earnings, error) {
	e, err := scanEarnings(s.pool.QueryRow(ctx,
		"SELECT "+earningsColumns+" FROM earnings WHERE member_id = $1", memberID))
	if err != nil {
		return ledger.Earnings{}, ledger.Storage("get earnings", notFound(err))
	}
	return e, nil
}

// CreditEarnings adds a to the member's balances and appends rec.
func (s *Store) CreditEarnings(ctx context.Context, memberID uuid.UUID, a ledger.Amounts, rec ledger.TransactionRecord) (ledger.Earnings, ledger.TransactionRecord, error) {
	var e ledger.Earnings
	err := s.inTx(ctx, "credit earnings", func(tx pgx.Tx) error {
		var err error
		e, err = lockEarnings(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if err := e.Credit(a); err != nil {
			return err
		}
		if e, err = saveEarnings(ctx, tx, e); err != nil {
			return err
		}
		rec.MemberID = memberID
		rec, err = insertTransaction(ctx, tx, rec)
		return err
	})
	if err != nil {
		return ledger.Earnings{}, ledger.TransactionRecord{}, err
	}
	return e, rec, nil
}

func lockEarnings(ctx context.Context, tx pgx.Tx, memberID uuid.UUID) (ledger.Earnings, error) {
	e, err := scanEarnings(tx.QueryRow(ctx,
		"SELECT "+earningsColumns+" FROM earnings WHERE member_id = $1 FOR UPDATE", memberID))
	return e, notFound(err)
}

func saveEarnings(ctx context.Context, tx pgx.Tx, e ledger.Earnings) (ledger.Earnings, error) {
	err := tx.QueryRow(ctx, `
        UPDATE earnings
        SET wallet = $2, olympus_earnings = $3, referral_bounty = $4, combined_earnings = $5,
            total_earnings = $6, updated_at = now()
        WHERE member_id = $1
        RETURNING updated_at
    `,
		e.MemberID,
		e.Wallet,
		e.OlympusEarnings,
		e.ReferralBounty,
		e.CombinedEarnings,
		e.TotalEarnings,
	).Scan(&e.UpdatedAt)
	return e, balanceError(err)
}

func insertTransaction(ctx context.Context, tx pgx.Tx, rec ledger.TransactionRecord) (ledger.TransactionRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return scanTransaction(tx.QueryRow(ctx, `
        INSERT INTO transactions (id, member_id, description, details, amount)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+transactionColumns,
		rec.ID,
		rec.MemberID,
		rec.Description,
		rec.Details,
		rec.Amount,
	))
}

func (s *Store) ListTransactions(ctx context.Context, memberID uuid.UUID, page, pageSize int) ([]ledger.TransactionRecord, int, error) {
	var (
		recs  []ledger.TransactionRecord
		total int
	)
	err := s.inReadTx(ctx, "list transactions", func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE member_id = $1", memberID).Scan(&total); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
            SELECT `+transactionColumns+`
            FROM transactions
            WHERE member_id = $1
            ORDER BY created_at DESC, seq DESC
            LIMIT $2 OFFSET $3
        `, memberID, pageSize, (page-1)*pageSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanTransaction(rows)
			if err != nil {
				return err
			}
			recs = append(recs, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

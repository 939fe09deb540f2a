package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"alliance.ledger/internal/ledger"
)

// CreatePackageConnection pays conn.Principal out of the member's wallet and
// stores the connection.
func (s *Store) CreatePackageConnection(ctx context.Context, conn ledger.PackageConnection) (ledger.PackageConnection, ledger.Earnings, error) {
	var e ledger.Earnings
	err := s.inTx(ctx, "create package connection", func(tx pgx.Tx) error {
		var err error
		e, err = lockEarnings(ctx, tx, conn.MemberID)
		if err != nil {
			return err
		}
		if err := e.Debit(ledger.Amounts{Wallet: conn.Principal}); err != nil {
			return err
		}
		if e, err = saveEarnings(ctx, tx, e); err != nil {
			return err
		}

		conn, err = scanConnection(tx.QueryRow(ctx, `
            INSERT INTO package_connections
                (id, member_id, package_name, principal, profit, purchased_at, completion_date, is_ready_to_claim)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
            RETURNING `+connectionColumns,
			conn.ID,
			conn.MemberID,
			conn.PackageName,
			conn.Principal,
			conn.Profit,
			conn.PurchasedAt,
			conn.CompletionDate,
			conn.ReadyToClaim,
		))
		if err != nil {
			return err
		}

		_, err = insertTransaction(ctx, tx, ledger.TransactionRecord{
			MemberID:    conn.MemberID,
			Description: ledger.PurchasedDescription(conn.PackageName),
			Details:     conn.ID.String(),
			Amount:      conn.Principal.Neg(),
		})
		return err
	})
	if err != nil {
		return ledger.PackageConnection{}, ledger.Earnings{}, err
	}
	return conn, e, nil
}

// ActivePackages lists the member's unclaimed connections, oldest first.
func (s *Store) ActivePackages(ctx context.Context, memberID uuid.UUID) ([]ledger.PackageConnection, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+connectionColumns+`
        FROM package_connections
        WHERE member_id = $1 AND claimed_at IS NULL
        ORDER BY purchased_at, id
    `, memberID)
	if err != nil {
		return nil, ledger.Storage("active packages", err)
	}
	defer rows.Close()

	conns := []ledger.PackageConnection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, ledger.Storage("active packages", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Storage("active packages", err)
	}
	return conns, nil
}

// ClaimPackage marks the connection claimed, credits principal and profit to
// olympus earnings and appends the claim record, all or nothing.
func (s *Store) ClaimPackage(ctx context.Context, claim ledger.Claim, at time.Time) (ledger.ClaimResult, error) {
	var res ledger.ClaimResult
	err := s.inTx(ctx, "claim package", func(tx pgx.Tx) error {
		conn, err := scanConnection(tx.QueryRow(ctx,
			"SELECT "+connectionColumns+" FROM package_connections WHERE id = $1 FOR UPDATE", claim.ConnectionID))
		if err != nil {
			return notFound(err)
		}
		if err := claim.Check(conn); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			"UPDATE package_connections SET claimed_at = $2 WHERE id = $1 AND claimed_at IS NULL", conn.ID, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ledger.ErrAlreadyClaimed
		}
		conn.ClaimedAt = &at

		e, err := lockEarnings(ctx, tx, conn.MemberID)
		if err != nil {
			return err
		}
		if err := e.Credit(ledger.Amounts{Olympus: conn.Payout()}); err != nil {
			return err
		}
		if e, err = saveEarnings(ctx, tx, e); err != nil {
			return err
		}

		rec, err := insertTransaction(ctx, tx, ledger.TransactionRecord{
			MemberID:    conn.MemberID,
			Description: ledger.ClaimedDescription(conn.PackageName),
			Details:     conn.ID.String(),
			Amount:      conn.Payout(),
		})
		if err != nil {
			return err
		}

		res = ledger.ClaimResult{Connection: conn, Earnings: e, Transaction: rec}
		return nil
	})
	if err != nil {
		return ledger.ClaimResult{}, err
	}
	return res, nil
}

// MarkMatured flags every unclaimed connection whose term ended by now as
// ready to claim and returns how many changed.
func (s *Store) MarkMatured(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
        UPDATE package_connections
        SET is_ready_to_claim = true
        WHERE claimed_at IS NULL AND NOT is_ready_to_claim AND completion_date <= $1
    `, now)
	if err != nil {
		return 0, ledger.Storage("mark matured", err)
	}
	return tag.RowsAffected(), nil
}

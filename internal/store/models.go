package store

import (
	"github.com/jackc/pgx/v5"

	"alliance.ledger/internal/ledger"
)

const withdrawalColumns = `id, member_id, amount, fee, source, bank_name, account_name, account_number,
        status, reject_note, approver_id, approver_username, idempotency_key, created_at, updated_at`

const connectionColumns = `id, member_id, package_name, principal, profit, purchased_at,
        completion_date, is_ready_to_claim, claimed_at`

const earningsColumns = `member_id, wallet, olympus_earnings, referral_bounty, combined_earnings, total_earnings, updated_at`

const memberColumns = `id, username, sponsor_id, created_at`

const transactionColumns = `id, seq, member_id, description, details, amount, created_at`

func scanWithdrawal(row pgx.Row) (ledger.WithdrawalRequest, error) {
	var w ledger.WithdrawalRequest
	err := row.Scan(
		&w.ID,
		&w.MemberID,
		&w.Amount,
		&w.Fee,
		&w.Source,
		&w.Bank.BankName,
		&w.Bank.AccountName,
		&w.Bank.AccountNumber,
		&w.Status,
		&w.RejectNote,
		&w.ApproverID,
		&w.ApproverUsername,
		&w.IdempotencyKey,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	return w, err
}

func scanConnection(row pgx.Row) (ledger.PackageConnection, error) {
	var c ledger.PackageConnection
	err := row.Scan(
		&c.ID,
		&c.MemberID,
		&c.PackageName,
		&c.Principal,
		&c.Profit,
		&c.PurchasedAt,
		&c.CompletionDate,
		&c.ReadyToClaim,
		&c.ClaimedAt,
	)
	return c, err
}

func scanEarnings(row pgx.Row) (ledger.Earnings, error) {
	var e ledger.Earnings
	err := row.Scan(
		&e.MemberID,
		&e.Wallet,
		&e.OlympusEarnings,
		&e.ReferralBounty,
		&e.CombinedEarnings,
		&e.TotalEarnings,
		&e.UpdatedAt,
	)
	return e, err
}

func scanMember(row pgx.Row) (ledger.Member, error) {
	var m ledger.Member
	err := row.Scan(
		&m.ID,
		&m.Username,
		&m.SponsorID,
		&m.CreatedAt,
	)
	return m, err
}

func scanTransaction(row pgx.Row) (ledger.TransactionRecord, error) {
	var r ledger.TransactionRecord
	err := row.Scan(
		&r.ID,
		&r.Seq,
		&r.MemberID,
		&r.Description,
		&r.Details,
		&r.Amount,
		&r.CreatedAt,
	)
	return r, err
}

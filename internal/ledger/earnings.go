package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxAmount is the largest amount or balance the ledger holds; it matches
// NUMERIC(18,2).
var MaxAmount = decimal.RequireFromString("9999999999999999.99")

// maxExponent bounds the decimal exponent accepted from callers. Rounding or
// comparing a value scales its coefficient by 10^|exponent|.
const maxExponent = 18

// Earnings is a member's balance sheet. CombinedEarnings is always
// OlympusEarnings + ReferralBounty; the wallet is spendable on packages only
// and is not part of it. TotalEarnings is the lifetime sum credited to olympus
// and referral balances; withdrawals never lower it and refunds never raise it.
type Earnings struct {
	MemberID         uuid.UUID
	Wallet           decimal.Decimal
	OlympusEarnings  decimal.Decimal
	ReferralBounty   decimal.Decimal
	CombinedEarnings decimal.Decimal
	TotalEarnings    decimal.Decimal
	UpdatedAt        time.Time
}

// Amounts is a per-component delta applied by Credit or Debit.
type Amounts struct {
	Wallet   decimal.Decimal
	Olympus  decimal.Decimal
	Referral decimal.Decimal
}

func (a Amounts) Total() decimal.Decimal {
	return a.Wallet.Add(a.Olympus).Add(a.Referral)
}

func (a Amounts) validate() error {
	if err := checkRange("wallet", a.Wallet); err != nil {
		return err
	}
	if err := checkRange("olympus_earnings", a.Olympus); err != nil {
		return err
	}
	if err := checkRange("referral_bounty", a.Referral); err != nil {
		return err
	}
	if a.Wallet.IsNegative() {
		return Invalid("wallet", "must not be negative")
	}
	if a.Olympus.IsNegative() {
		return Invalid("olympus_earnings", "must not be negative")
	}
	if a.Referral.IsNegative() {
		return Invalid("referral_bounty", "must not be negative")
	}
	return nil
}

func NewEarnings(memberID uuid.UUID) Earnings {
	return Earnings{MemberID: memberID}
}

// Credit adds newly earned amounts; olympus and referral credits count
// towards TotalEarnings.
func (e *Earnings) Credit(a Amounts) error {
	return e.add(a, a.Olympus.Add(a.Referral))
}

// Restore puts back amounts taken by an earlier debit, such as a rejected
// withdrawal. TotalEarnings is unchanged.
func (e *Earnings) Restore(a Amounts) error {
	return e.add(a, decimal.Zero)
}

func (e *Earnings) add(a Amounts, earned decimal.Decimal) error {
	if err := a.validate(); err != nil {
		return err
	}
	next := *e
	next.Wallet = e.Wallet.Add(a.Wallet)
	next.OlympusEarnings = e.OlympusEarnings.Add(a.Olympus)
	next.ReferralBounty = e.ReferralBounty.Add(a.Referral)
	next.TotalEarnings = e.TotalEarnings.Add(earned)
	next.recompute()
	if next.Wallet.GreaterThan(MaxAmount) ||
		next.CombinedEarnings.GreaterThan(MaxAmount) ||
		next.TotalEarnings.GreaterThan(MaxAmount) {
		return Invalid("amount", "balance would exceed "+MaxAmount.String())
	}
	*e = next
	return nil
}

// Debit subtracts a from the balances. If any component would go negative
// nothing changes and ErrInsufficientFunds is returned.
func (e *Earnings) Debit(a Amounts) error {
	if err := a.validate(); err != nil {
		return err
	}
	if e.Wallet.LessThan(a.Wallet) ||
		e.OlympusEarnings.LessThan(a.Olympus) ||
		e.ReferralBounty.LessThan(a.Referral) {
		return ErrInsufficientFunds
	}
	e.Wallet = e.Wallet.Sub(a.Wallet)
	e.OlympusEarnings = e.OlympusEarnings.Sub(a.Olympus)
	e.ReferralBounty = e.ReferralBounty.Sub(a.Referral)
	e.recompute()
	return nil
}

func (e *Earnings) recompute() {
	e.CombinedEarnings = e.OlympusEarnings.Add(e.ReferralBounty)
}

// Balanced reports whether the account satisfies its invariants.
func (e Earnings) Balanced() bool {
	if e.Wallet.IsNegative() || e.OlympusEarnings.IsNegative() || e.ReferralBounty.IsNegative() {
		return false
	}
	return e.CombinedEarnings.Equal(e.OlympusEarnings.Add(e.ReferralBounty))
}

// Total is the member's whole holding: wallet plus combined earnings.
func (e Earnings) Total() decimal.Decimal {
	return e.Wallet.Add(e.CombinedEarnings)
}

// Source names the balance a withdrawal is taken from.
type Source string

const (
	SourceOlympus  Source = "OLYMPUS"
	SourceReferral Source = "REFERRAL"
)

func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceOlympus, SourceReferral:
		return Source(s), nil
	}
	return "", Invalid("source", "must be OLYMPUS or REFERRAL")
}

// Amounts places amount on the component the source refers to.
func (s Source) Amounts(amount decimal.Decimal) Amounts {
	if s == SourceReferral {
		return Amounts{Referral: amount}
	}
	return Amounts{Olympus: amount}
}

// CheckAmount rejects non-positive amounts, amounts above MaxAmount and
// amounts with more than two fractional digits. It does no arithmetic on an
// out-of-range exponent.
func CheckAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return Invalid(field, "must be positive")
	}
	return checkRange(field, d)
}

// CheckNonNegative is CheckAmount that also accepts zero.
func CheckNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return Invalid(field, "must not be negative")
	}
	return checkRange(field, d)
}

func checkRange(field string, d decimal.Decimal) error {
	if d.IsZero() {
		return nil
	}
	exp := d.Exponent()
	if exp > maxExponent {
		return Invalid(field, "must not exceed "+MaxAmount.String())
	}
	if exp < -maxExponent {
		return Invalid(field, "at most two decimal places")
	}
	if d.Abs().GreaterThan(MaxAmount) {
		return Invalid(field, "must not exceed "+MaxAmount.String())
	}
	if !d.Equal(d.Round(2)) {
		return Invalid(field, "at most two decimal places")
	}
	return nil
}

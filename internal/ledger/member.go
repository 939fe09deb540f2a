package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Member is an account holder. SponsorID names the member who referred
// them, if any; a sponsor always registers first, so the tree has no cycles.
type Member struct {
	ID        uuid.UUID
	Username  string
	SponsorID *uuid.UUID
	CreatedAt time.Time
}

func (m Member) Validate() error {
	if m.ID == uuid.Nil {
		return Invalid("id", "required")
	}
	if strings.TrimSpace(m.Username) == "" {
		return Invalid("username", "required")
	}
	if m.SponsorID != nil && (*m.SponsorID == uuid.Nil || *m.SponsorID == m.ID) {
		return Invalid("sponsor_id", "must be another member")
	}
	return nil
}

// MaxReferralDepth is the deepest sponsor level counted as a referral.
const MaxReferralDepth = 10

// ReferralLevel selects members a member sponsored directly (the ally
// bounty) or through others (the legion bounty).
type ReferralLevel string

const (
	ReferralDirect   ReferralLevel = "direct"
	ReferralIndirect ReferralLevel = "indirect"
)

func ParseReferralLevel(s string) (ReferralLevel, error) {
	switch l := ReferralLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case ReferralDirect, ReferralIndirect:
		return l, nil
	case "":
		return ReferralDirect, nil
	}
	return "", Invalid("level", "must be direct or indirect")
}

// Depths is the inclusive range of sponsor-tree depths the level covers.
// Depth 1 is a member's own referrals.
func (l ReferralLevel) Depths() (int, int) {
	if l == ReferralIndirect {
		return 2, MaxReferralDepth
	}
	return 1, 1
}

// Referral is a member in someone's downline, Depth levels below them.
type Referral struct {
	Member Member
	Depth  int
}

// SortReferrals orders referrals oldest member first, by id on ties.
func SortReferrals(refs []Referral) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i].Member, refs[j].Member
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// PageReferrals returns the given 1-based page of refs.
func PageReferrals(refs []Referral, page, pageSize int) []Referral {
	start, end := pageBounds(page, pageSize)
	start, end = clamp(start, len(refs)), clamp(end, len(refs))
	out := make([]Referral, end-start)
	copy(out, refs[start:end])
	return out
}

// Entry is a credit to one balance component, recorded in the log with
// Description and Details.
type Entry struct {
	MemberID    uuid.UUID
	Amount      decimal.Decimal
	Description string
	Details     string
}

func (e Entry) Validate() error {
	if e.MemberID == uuid.Nil {
		return Invalid("member_id", "required")
	}
	return CheckAmount("amount", e.Amount)
}

const (
	DescriptionDeposit          = "Wallet Deposit"
	DescriptionReferralBounty   = "Referral Bounty"
	DescriptionWithdrawal       = "Withdrawal Request"
	DescriptionWithdrawalRefund = "Withdrawal Rejected Refund"
)

// PurchasedDescription is the transaction description for a purchase.
func PurchasedDescription(packageName string) string {
	return packageName + " Package Purchased"
}

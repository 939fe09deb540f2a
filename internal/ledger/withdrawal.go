package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected}

func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	}
	return "", Invalid("status", "must be PENDING, APPROVED or REJECTED")
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type BankAccount struct {
	BankName      string
	AccountName   string
	AccountNumber string
}

type WithdrawalRequest struct {
	ID               uuid.UUID
	MemberID         uuid.UUID
	Amount           decimal.Decimal
	Fee              decimal.Decimal
	Source           Source
	Bank             BankAccount
	Status           Status
	RejectNote       string
	ApproverID       *uuid.UUID
	ApproverUsername string
	IdempotencyKey   string
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

// Net is what the member receives once the fee is taken.
func (w WithdrawalRequest) Net() decimal.Decimal {
	return w.Amount.Sub(w.Fee)
}

// NewWithdrawal is a member's withdrawal submission. Amount is debited from
// Source; Fee is part of Amount.
type NewWithdrawal struct {
	MemberID       uuid.UUID
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	Source         Source
	Bank           BankAccount
	IdempotencyKey string
	// DayStart, when set, limits the member to one live request created at
	// or after it. Rejected requests do not count.
	DayStart time.Time
}

func (n NewWithdrawal) Validate() error {
	if n.MemberID == uuid.Nil {
		return Invalid("member_id", "required")
	}
	if err := CheckAmount("amount", n.Amount); err != nil {
		return err
	}
	if n.Fee.IsNegative() || !n.Fee.LessThan(n.Amount) {
		return Invalid("fee", "must be at least zero and below amount")
	}
	if _, err := ParseSource(string(n.Source)); err != nil {
		return err
	}
	if strings.TrimSpace(n.Bank.BankName) == "" {
		return Invalid("bank_name", "required")
	}
	if strings.TrimSpace(n.Bank.AccountName) == "" {
		return Invalid("account_name", "required")
	}
	if strings.TrimSpace(n.Bank.AccountNumber) == "" {
		return Invalid("account_number", "required")
	}
	if strings.TrimSpace(n.IdempotencyKey) == "" {
		return Invalid("idempotency_key", "required")
	}
	return nil
}

// SamePayload reports whether a replayed submission matches the stored one.
func (w WithdrawalRequest) SamePayload(n NewWithdrawal) bool {
	return w.MemberID == n.MemberID &&
		w.Amount.Equal(n.Amount) &&
		w.Source == n.Source &&
		w.Bank == n.Bank
}

// Transition moves a PENDING request to a terminal status.
type Transition struct {
	RequestID        uuid.UUID
	Status           Status
	ApproverID       uuid.UUID
	ApproverUsername string
	Note             string
	// Refund credits a rejected request's amount back to its source balance.
	Refund bool
	At     time.Time
}

func (t Transition) Validate() error {
	if t.RequestID == uuid.Nil {
		return Invalid("request_id", "required")
	}
	if t.ApproverID == uuid.Nil {
		return Invalid("approver_id", "required")
	}
	if !t.Status.Terminal() {
		return ErrInvalidTransition
	}
	return nil
}

// NoteMissing flags a rejection recorded without a reason.
func (t Transition) NoteMissing() bool {
	return t.Status == StatusRejected && strings.TrimSpace(t.Note) == ""
}

// Apply returns w after the transition. w must be PENDING.
func (t Transition) Apply(w WithdrawalRequest) (WithdrawalRequest, error) {
	if w.Status != StatusPending {
		return WithdrawalRequest{}, ErrInvalidTransition
	}
	approver := t.ApproverID
	at := t.At
	w.Status = t.Status
	w.ApproverID = &approver
	w.ApproverUsername = t.ApproverUsername
	w.UpdatedAt = &at
	if t.Status == StatusRejected {
		w.RejectNote = strings.TrimSpace(t.Note)
	}
	return w, nil
}

// Group is one status bucket: the requests held, newest first, and the
// bucket's total size, which may exceed len(Requests) for a paged view.
type Group struct {
	Requests []WithdrawalRequest
	Count    int
}

// Book holds withdrawal requests grouped by status. It only knows the
// requests loaded into it.
type Book struct {
	groups map[Status]*Group
}

func NewBook() *Book {
	b := &Book{groups: make(map[Status]*Group, len(Statuses))}
	for _, s := range Statuses {
		b.groups[s] = &Group{}
	}
	return b
}

// Load replaces the bucket for status with a page of requests and a total.
func (b *Book) Load(status Status, requests []WithdrawalRequest, count int) {
	b.groups[status] = &Group{Requests: requests, Count: count}
}

// Insert puts r at the front of its status bucket.
func (b *Book) Insert(r WithdrawalRequest) {
	g := b.groups[r.Status]
	g.Requests = append([]WithdrawalRequest{r}, g.Requests...)
	g.Count++
}

func (b *Book) Get(id uuid.UUID) (WithdrawalRequest, bool) {
	for _, s := range Statuses {
		for _, r := range b.groups[s].Requests {
			if r.ID == id {
				return r, true
			}
		}
	}
	return WithdrawalRequest{}, false
}

// Transition moves a request out of PENDING into t.Status, adjusting both
// counts. A request held in a terminal bucket yields ErrInvalidTransition and
// an unknown one ErrNotFound; the book is unchanged on error.
func (b *Book) Transition(t Transition) (WithdrawalRequest, error) {
	if err := t.Validate(); err != nil {
		return WithdrawalRequest{}, err
	}
	pending := b.groups[StatusPending]
	idx := -1
	for i, r := range pending.Requests {
		if r.ID == t.RequestID {
			idx = i
			break
		}
	}
	if idx < 0 {
		if _, ok := b.Get(t.RequestID); ok {
			return WithdrawalRequest{}, ErrInvalidTransition
		}
		return WithdrawalRequest{}, ErrNotFound
	}

	updated, err := t.Apply(pending.Requests[idx])
	if err != nil {
		return WithdrawalRequest{}, err
	}

	rest := make([]WithdrawalRequest, 0, len(pending.Requests)-1)
	rest = append(rest, pending.Requests[:idx]...)
	rest = append(rest, pending.Requests[idx+1:]...)
	pending.Requests = rest
	pending.Count--

	b.Insert(updated)
	return updated, nil
}

// Group returns a copy of the bucket for status.
func (b *Book) Group(status Status) Group {
	g, ok := b.groups[status]
	if !ok {
		return Group{}
	}
	out := make([]WithdrawalRequest, len(g.Requests))
	copy(out, g.Requests)
	return Group{Requests: out, Count: g.Count}
}

// Page returns a view holding the given 1-based page of every bucket with
// the full counts.
func (b *Book) Page(page, pageSize int) *Book {
	view := NewBook()
	start, end := pageBounds(page, pageSize)
	for _, s := range Statuses {
		g := b.groups[s]
		lo, hi := clamp(start, len(g.Requests)), clamp(end, len(g.Requests))
		out := make([]WithdrawalRequest, hi-lo)
		copy(out, g.Requests[lo:hi])
		view.Load(s, out, g.Count)
	}
	return view
}

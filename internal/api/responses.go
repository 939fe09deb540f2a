package api

import (
	"time"

	"github.com/shopspring/decimal"

	"alliance.ledger/internal/ledger"
	"alliance.ledger/internal/service"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type memberResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	SponsorID string    `json:"sponsor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toMemberResponse(m ledger.Member) memberResponse {
	resp := memberResponse{ID: m.ID.String(), Username: m.Username, CreatedAt: m.CreatedAt}
	if m.SponsorID != nil {
		resp.SponsorID = m.SponsorID.String()
	}
	return resp
}

type sponsorResponse struct {
	Sponsor *memberResponse `json:"sponsor"`
}

type referralResponse struct {
	memberResponse
	Depth int `json:"depth"`
}

type referralListResponse struct {
	Referrals []referralResponse `json:"referrals"`
	Level     string             `json:"level"`
	Total     int                `json:"total"`
	Page      int                `json:"page"`
	PageSize  int                `json:"page_size"`
}

type earningsResponse struct {
	MemberID         string    `json:"member_id"`
	Wallet           string    `json:"wallet"`
	OlympusEarnings  string    `json:"olympus_earnings"`
	ReferralBounty   string    `json:"referral_bounty"`
	CombinedEarnings string    `json:"combined_earnings"`
	TotalEarnings    string    `json:"total_earnings"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toEarningsResponse(e ledger.Earnings) earningsResponse {
	return earningsResponse{
		MemberID:         e.MemberID.String(),
		Wallet:           money(e.Wallet),
		OlympusEarnings:  money(e.OlympusEarnings),
		ReferralBounty:   money(e.ReferralBounty),
		CombinedEarnings: money(e.CombinedEarnings),
		TotalEarnings:    money(e.TotalEarnings),
		UpdatedAt:        e.UpdatedAt,
	}
}

type dashboardResponse struct {
	earningsResponse
	WithdrawnToday bool `json:"withdrawn_today"`
}

type transactionResponse struct {
	ID          string    `json:"id"`
	Seq         int64     `json:"seq"`
	MemberID    string    `json:"member_id"`
	Description string    `json:"description"`
	Details     string    `json:"details"`
	Amount      string    `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}

func toTransactionResponse(r ledger.TransactionRecord) transactionResponse {
	return transactionResponse{
		ID:          r.ID.String(),
		Seq:         r.Seq,
		MemberID:    r.MemberID.String(),
		Description: r.Description,
		Details:     r.Details,
		Amount:      money(r.Amount),
		CreatedAt:   r.CreatedAt,
	}
}

type transactionListResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
	Page         int                   `json:"page"`
	PageSize     int                   `json:"page_size"`
}

type creditResponse struct {
	Earnings    earningsResponse    `json:"earnings"`
	Transaction transactionResponse `json:"transaction"`
}

type withdrawalResponse struct {
	ID               string     `json:"id"`
	MemberID         string     `json:"member_id"`
	Amount           string     `json:"amount"`
	Fee              string     `json:"fee"`
	NetAmount        string     `json:"net_amount"`
	Source           string     `json:"source"`
	BankName         string     `json:"bank_name"`
	AccountName      string     `json:"account_name"`
	AccountNumber    string     `json:"account_number"`
	Status           string     `json:"status"`
	RejectNote       string     `json:"reject_note,omitempty"`
	ApproverID       string     `json:"approver_id,omitempty"`
	ApproverUsername string     `json:"approver_username,omitempty"`
	IdempotencyKey   string     `json:"idempotency_key"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

func toWithdrawalResponse(w ledger.WithdrawalRequest) withdrawalResponse {
	resp := withdrawalResponse{
		ID:               w.ID.String(),
		MemberID:         w.MemberID.String(),
		Amount:           money(w.Amount),
		Fee:              money(w.Fee),
		NetAmount:        money(w.Net()),
		Source:           string(w.Source),
		BankName:         w.Bank.BankName,
		AccountName:      w.Bank.AccountName,
		AccountNumber:    w.Bank.AccountNumber,
		Status:           string(w.Status),
		RejectNote:       w.RejectNote,
		ApproverUsername: w.ApproverUsername,
		IdempotencyKey:   w.IdempotencyKey,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
	if w.ApproverID != nil {
		resp.ApproverID = w.ApproverID.String()
	}
	return resp
}

type transitionResponse struct {
	withdrawalResponse
	Warnings []string `json:"warnings,omitempty"`
}

type groupResponse struct {
	Count    int                  `json:"count"`
	Requests []withdrawalResponse `json:"requests"`
}

type withdrawalListResponse struct {
	Groups   map[string]groupResponse `json:"groups"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
}

func toWithdrawalListResponse(b *ledger.Book, page, pageSize int) withdrawalListResponse {
	resp := withdrawalListResponse{
		Groups:   make(map[string]groupResponse, len(ledger.Statuses)),
		Page:     page,
		PageSize: pageSize,
	}
	for _, status := range ledger.Statuses {
		g := b.Group(status)
		reqs := make([]withdrawalResponse, 0, len(g.Requests))
		for _, w := range g.Requests {
			reqs = append(reqs, toWithdrawalResponse(w))
		}
		resp.Groups[string(status)] = groupResponse{Count: g.Count, Requests: reqs}
	}
	return resp
}

type connectionResponse struct {
	ID                string     `json:"id"`
	MemberID          string     `json:"member_id"`
	PackageName       string     `json:"package_name"`
	Principal         string     `json:"principal"`
	Profit            string     `json:"profit"`
	Payout            string     `json:"payout"`
	PurchasedAt       time.Time  `json:"purchased_at"`
	CompletionDate    time.Time  `json:"completion_date"`
	ReadyToClaim      bool       `json:"ready_to_claim"`
	ClaimedAt         *time.Time `json:"claimed_at,omitempty"`
	CompletionPercent *float64   `json:"completion_percent,omitempty"`
}

func toConnectionResponse(c ledger.PackageConnection) connectionResponse {
	return connectionResponse{
		ID:             c.ID.String(),
		MemberID:       c.MemberID.String(),
		PackageName:    c.PackageName,
		Principal:      money(c.Principal),
		Profit:         money(c.Profit),
		Payout:         money(c.Payout()),
		PurchasedAt:    c.PurchasedAt,
		CompletionDate: c.CompletionDate,
		ReadyToClaim:   c.ReadyToClaim,
		ClaimedAt:      c.ClaimedAt,
	}
}

func toActivePackageResponse(p service.ActivePackage) connectionResponse {
	resp := toConnectionResponse(p.PackageConnection)
	pct := p.Completion
	resp.CompletionPercent = &pct
	return resp
}

type purchaseResponse struct {
	Connection connectionResponse `json:"connection"`
	Earnings   earningsResponse   `json:"earnings"`
}

type claimResponse struct {
	Connection  connectionResponse  `json:"connection"`
	Earnings    earningsResponse    `json:"earnings"`
	Transaction transactionResponse `json:"transaction"`
}

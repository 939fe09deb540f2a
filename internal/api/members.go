package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"alliance.ledger/internal/ledger"
)

type registerMemberRequest struct {
	ID        uuid.UUID  `json:"id"`
	Username  string     `json:"username"`
	SponsorID *uuid.UUID `json:"sponsor_id"`
}

type creditRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Details string          `json:"details"`
}

func (s *Server) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if !p.Is(RoleAdmin) {
		s.forbid(w, p, "member_register")
		return
	}

	var req registerMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logEvent("member_register_failed", map[string]any{"reason": "invalid_request"})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	m, err := s.svc.RegisterMember(r.Context(), req.ID, req.Username, req.SponsorID)
	if err != nil {
		s.fail(w, "member_register_failed", err, map[string]any{
			"member_id": req.ID.String(),
			"username":  req.Username,
		})
		return
	}

	s.logEvent("member_registered", map[string]any{"member_id": m.ID.String()})
	writeJSON(w, http.StatusCreated, toMemberResponse(m))
}

// memberParam reads {memberID} and checks the caller may act on it.
func (s *Server) memberParam(w http.ResponseWriter, r *http.Request, action string, roles ...Role) (uuid.UUID, bool) {
	p, _ := principalFrom(r.Context())
	id, err := uuidParam(r, "memberID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return uuid.Nil, false
	}
	if !p.SelfOr(id, roles...) {
		s.forbid(w, p, action)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetEarnings(w http.ResponseWriter, r *http.Request) {
	id, ok := s.memberParam(w, r, "earnings_get", RoleAdmin, RoleAccounting)
	if !ok {
		return
	}
	d, err := s.svc.Dashboard(r.Context(), id)
	if err != nil {
		s.fail(w, "earnings_get_failed", err, map[string]any{"member_id": id.String()})
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		earningsResponse: toEarningsResponse(d.Earnings),
		WithdrawnToday:   d.WithdrawnToday,
	})
}

func (s *Server) handleGetSponsor(w http.ResponseWriter, r *http.Request) {
	id, ok := s.memberParam(w, r, "sponsor_get", RoleAdmin, RoleAccounting)
	if !ok {
		return
	}
	sponsor, err := s.svc.GetSponsor(r.Context(), id)
	if err != nil {
		s.fail(w, "sponsor_get_failed", err, map[string]any{"member_id": id.String()})
		return
	}
	var resp sponsorResponse
	if sponsor != nil {
		m := toMemberResponse(*sponsor)
		resp.Sponsor = &m
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListReferrals(w http.ResponseWriter, r *http.Request) {
	id, ok := s.memberParam(w, r, "referrals_list", RoleAdmin)
	if !ok {
		return
	}
	page, size, err := pageParams(r)
	if err != nil {
		s.fail(w, "referrals_list_failed", err, nil)
		return
	}
	level, err := ledger.ParseReferralLevel(r.URL.Query().Get("level"))
	if err != nil {
		s.fail(w, "referrals_list_failed", err, nil)
		return
	}
	refs, total, err := s.svc.ListReferrals(r.Context(), id, string(level), page, size)
	if err != nil {
		s.fail(w, "referrals_list_failed", err, map[string]any{"member_id": id.String(), "level": string(level)})
		return
	}

	out := make([]referralResponse, 0, len(refs))
	for _, ref := range refs {
		out = append(out, referralResponse{memberResponse: toMemberResponse(ref.Member), Depth: ref.Depth})
	}
	writeJSON(w, http.StatusOK, referralListResponse{
		Referrals: out,
		Level:     string(level),
		Total:     total,
		Page:      page,
		PageSize:  size,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleCredit(w, r, "deposit", []Role{RoleAdmin, RoleAccounting}, s.svc.Deposit)
}

func (s *Server) handleReferralBounty(w http.ResponseWriter, r *http.Request) {
	s.handleCredit(w, r, "referral_bounty", []Role{RoleAdmin}, s.svc.CreditReferralBounty)
}

type creditFunc func(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, details string) (ledger.Earnings, ledger.TransactionRecord, error)

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request, action string, roles []Role, credit creditFunc) {
	p, _ := principalFrom(r.Context())
	id, err := uuidParam(r, "memberID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	// self-service credits are never allowed
	if !p.Is(roles...) {
		s.forbid(w, p, action)
		return
	}

	var req creditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logEvent(action+"_failed", map[string]any{"reason": "invalid_request", "member_id": id.String()})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	e, rec, err := credit(r.Context(), id, req.Amount, req.Details)
	if err != nil {
		s.fail(w, action+"_failed", err, map[string]any{
			"member_id": id.String(),
			"amount":    amountField(req.Amount),
		})
		return
	}

	s.logEvent(action+"_credited", map[string]any{
		"member_id":      id.String(),
		"amount":         money(rec.Amount),
		"transaction_id": rec.ID.String(),
		"credited_by":    p.ID.String(),
	})
	writeJSON(w, http.StatusCreated, creditResponse{
		Earnings:    toEarningsResponse(e),
		Transaction: toTransactionResponse(rec),
	})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.memberParam(w, r, "transactions_list", RoleAdmin, RoleAccounting)
	if !ok {
		return
	}
	page, size, err := pageParams(r)
	if err != nil {
		s.fail(w, "transactions_list_failed", err, nil)
		return
	}

	recs, total, err := s.svc.ListTransactions(r.Context(), id, page, size)
	if err != nil {
		s.fail(w, "transactions_list_failed", err, map[string]any{"member_id": id.String()})
		return
	}

	out := make([]transactionResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toTransactionResponse(rec))
	}
	writeJSON(w, http.StatusOK, transactionListResponse{
		Transactions: out,
		Total:        total,
		Page:         page,
		PageSize:     size,
	})
}

package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"alliance.ledger/internal/ledger"
	"alliance.ledger/internal/service"
)

type createWithdrawalRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Source         string          `json:"source"`
	BankName       string          `json:"bank_name"`
	AccountName    string          `json:"account_name"`
	AccountNumber  string          `json:"account_number"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (s *Server) handleCreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if !p.Is(RoleMember) {
		s.forbid(w, p, "withdrawal_create")
		return
	}

	var req createWithdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logEvent("withdrawal_create_failed", map[string]any{
			"reason":    "invalid_request",
			"member_id": p.ID.String(),
		})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	withdrawal, replayed, err := s.svc.SubmitWithdrawal(r.Context(), service.WithdrawalInput{
		MemberID: p.ID,
		Amount:   req.Amount,
		Source:   req.Source,
		Bank: ledger.BankAccount{
			BankName:      req.BankName,
			AccountName:   req.AccountName,
			AccountNumber: req.AccountNumber,
		},
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.fail(w, "withdrawal_create_failed", err, map[string]any{
			"member_id": p.ID.String(),
			"amount":    amountField(req.Amount),
			"source":    req.Source,
		})
		return
	}

	if replayed {
		s.logEvent("withdrawal_replayed", map[string]any{
			"withdrawal_id":   withdrawal.ID.String(),
			"idempotency_key": withdrawal.IdempotencyKey,
		})
	} else {
		s.logEvent("withdrawal_created", map[string]any{
			"withdrawal_id": withdrawal.ID.String(),
			"member_id":     withdrawal.MemberID.String(),
			"amount":        money(withdrawal.Amount),
			"status":        string(withdrawal.Status),
		})
	}
	writeJSON(w, http.StatusCreated, toWithdrawalResponse(withdrawal))
}

func (s *Server) handleGetWithdrawal(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	withdrawal, err := s.svc.GetWithdrawal(r.Context(), id)
	if err != nil {
		s.fail(w, "withdrawal_get_failed", err, map[string]any{"withdrawal_id": id.String()})
		return
	}
	if !p.SelfOr(withdrawal.MemberID, RoleAdmin, RoleAccounting) {
		s.forbid(w, p, "withdrawal_get")
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalResponse(withdrawal))
}

func (s *Server) handleListWithdrawals(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if !p.Is(RoleAdmin, RoleAccounting) {
		s.forbid(w, p, "withdrawal_list")
		return
	}

	page, size, err := pageParams(r)
	if err != nil {
		s.fail(w, "withdrawal_list_failed", err, nil)
		return
	}
	book, err := s.svc.ListWithdrawals(r.Context(), page, size)
	if err != nil {
		s.fail(w, "withdrawal_list_failed", err, map[string]any{"page": page, "page_size": size})
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalListResponse(book, page, size))
}

func (s *Server) handleTransitionWithdrawal(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if !p.Is(RoleAdmin, RoleAccounting) {
		s.forbid(w, p, "withdrawal_transition")
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logEvent("withdrawal_transition_failed", map[string]any{
			"reason":        "invalid_request",
			"withdrawal_id": id.String(),
		})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := s.svc.TransitionWithdrawal(r.Context(), service.TransitionInput{
		RequestID:        id,
		Status:           req.Status,
		ApproverID:       p.ID,
		ApproverUsername: p.Username,
		Note:             req.Note,
	})
	if err != nil {
		s.fail(w, "withdrawal_transition_failed", err, map[string]any{
			"withdrawal_id": id.String(),
			"status":        req.Status,
			"approver_id":   p.ID.String(),
		})
		return
	}

	s.logEvent("withdrawal_transitioned", map[string]any{
		"withdrawal_id": res.Request.ID.String(),
		"status":        string(res.Request.Status),
		"approver_id":   p.ID.String(),
		"warnings":      res.Warnings,
	})
	writeJSON(w, http.StatusOK, transitionResponse{
		withdrawalResponse: toWithdrawalResponse(res.Request),
		Warnings:           res.Warnings,
	})
}

package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"alliance.ledger/internal/ledger"
)

// WarningNoteMissing is returned with a rejection that carries no reason.
const WarningNoteMissing = "rejection_note_missing"

var hundred = decimal.NewFromInt(100)

type WithdrawalInput struct {
	MemberID       uuid.UUID
	Amount         decimal.Decimal
	Source         string
	Bank           ledger.BankAccount
	IdempotencyKey string
}

// SubmitWithdrawal files a PENDING request and debits its source balance.
// A replay of the same idempotency key returns the original request with
// replayed set.
func (s *Service) SubmitWithdrawal(ctx context.Context, in WithdrawalInput) (w ledger.WithdrawalRequest, replayed bool, err error) {
	source, err := ledger.ParseSource(strings.ToUpper(strings.TrimSpace(in.Source)))
	if err != nil {
		return ledger.WithdrawalRequest{}, false, err
	}
	// the fee is arithmetic on the amount, so the amount is checked first
	if err := ledger.CheckAmount("amount", in.Amount); err != nil {
		return ledger.WithdrawalRequest{}, false, err
	}
	nw := ledger.NewWithdrawal{
		MemberID: in.MemberID,
		Amount:   in.Amount,
		Fee:      in.Amount.Mul(s.cfg.FeePercent).Div(hundred).Round(2),
		Source:   source,
		Bank: ledger.BankAccount{
			BankName:      strings.TrimSpace(in.Bank.BankName),
			AccountName:   strings.TrimSpace(in.Bank.AccountName),
			AccountNumber: strings.TrimSpace(in.Bank.AccountNumber),
		},
		IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
	}
	if s.cfg.OncePerDay {
		nw.DayStart = s.dayStart()
	}
	if err := nw.Validate(); err != nil {
		return ledger.WithdrawalRequest{}, false, err
	}

	w, replayed, err = s.repo.CreateWithdrawal(ctx, nw)
	s.metrics.WithdrawalSubmitted(string(source), outcome(err))
	if err != nil {
		return ledger.WithdrawalRequest{}, false, err
	}
	if !replayed {
		s.log.Info("withdrawal_submitted",
			zap.Stringer("withdrawal_id", w.ID),
			zap.Stringer("member_id", w.MemberID),
			zap.Stringer("amount", w.Amount),
			zap.Stringer("fee", w.Fee),
			zap.String("source", string(w.Source)),
		)
	}
	return w, replayed, nil
}

func (s *Service) GetWithdrawal(ctx context.Context, id uuid.UUID) (ledger.WithdrawalRequest, error) {
	return s.repo.GetWithdrawal(ctx, id)
}

// ListWithdrawals returns one page of each status group with the group
// totals.
func (s *Service) ListWithdrawals(ctx context.Context, page, pageSize int) (*ledger.Book, error) {
	if err := ledger.CheckPage(page, pageSize); err != nil {
		return nil, err
	}
	return s.repo.ListWithdrawals(ctx, page, pageSize)
}

type TransitionInput struct {
	RequestID        uuid.UUID
	Status           string
	ApproverID       uuid.UUID
	ApproverUsername string
	Note             string
}

type TransitionResult struct {
	Request  ledger.WithdrawalRequest
	Warnings []string
}

// TransitionWithdrawal approves or rejects a PENDING request.
func (s *Service) TransitionWithdrawal(ctx context.Context, in TransitionInput) (TransitionResult, error) {
	status, err := ledger.ParseStatus(in.Status)
	if err != nil {
		return TransitionResult{}, err
	}
	t := ledger.Transition{
		RequestID:        in.RequestID,
		Status:           status,
		ApproverID:       in.ApproverID,
		ApproverUsername: strings.TrimSpace(in.ApproverUsername),
		Note:             in.Note,
		Refund:           s.cfg.RefundOnReject,
		At:               s.now(),
	}
	if err := t.Validate(); err != nil {
		s.metrics.Transition(string(status), outcome(err))
		return TransitionResult{}, err
	}

	w, err := s.repo.TransitionWithdrawal(ctx, t)
	s.metrics.Transition(string(status), outcome(err))
	if err != nil {
		return TransitionResult{}, err
	}

	res := TransitionResult{Request: w}
	fields := []zap.Field{
		zap.Stringer("withdrawal_id", w.ID),
		zap.String("status", string(w.Status)),
		zap.Stringer("approver_id", in.ApproverID),
	}
	if t.NoteMissing() {
		res.Warnings = append(res.Warnings, WarningNoteMissing)
		s.metrics.RejectionWithoutNote()
		s.log.Warn("withdrawal_rejected_without_note", fields...)
		return res, nil
	}
	s.log.Info("withdrawal_transitioned", fields...)
	return res, nil
}

// Package service applies input validation and the configured withdrawal
// policy on top of a Repository, and records logs and metrics for every
// balance-affecting operation.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"alliance.ledger/internal/ledger"
	"alliance.ledger/internal/metrics"
)

// Repository is the persistence contract. Every method that changes more
// than one row does so atomically.
type Repository interface {
	Ping(ctx context.Context) error

	CreateMember(ctx context.Context, m ledger.Member) (ledger.Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (ledger.Member, error)
	ListReferrals(ctx context.Context, memberID uuid.UUID, level ledger.ReferralLevel, page, pageSize int) ([]ledger.Referral, int, error)
	GetEarnings(ctx context.Context, memberID uuid.UUID) (ledger.Earnings, error)
	CreditEarnings(ctx context.Context, memberID uuid.UUID, a ledger.Amounts, rec ledger.TransactionRecord) (ledger.Earnings, ledger.TransactionRecord, error)
	ListTransactions(ctx context.Context, memberID uuid.UUID, page, pageSize int) ([]ledger.TransactionRecord, int, error)

	CreateWithdrawal(ctx context.Context, in ledger.NewWithdrawal) (ledger.WithdrawalRequest, bool, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (ledger.WithdrawalRequest, error)
	WithdrawnSince(ctx context.Context, memberID uuid.UUID, since time.Time) (bool, error)
	TransitionWithdrawal(ctx context.Context, t ledger.Transition) (ledger.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, page, pageSize int) (*ledger.Book, error)

	CreatePackageConnection(ctx context.Context, conn ledger.PackageConnection) (ledger.PackageConnection, ledger.Earnings, error)
	ActivePackages(ctx context.Context, memberID uuid.UUID) ([]ledger.PackageConnection, error)
	ClaimPackage(ctx context.Context, claim ledger.Claim, at time.Time) (ledger.ClaimResult, error)
	MarkMatured(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	// FeePercent of each withdrawal is kept as a fee, in [0, 100).
	FeePercent decimal.Decimal
	// RefundOnReject credits a rejected withdrawal back to its source.
	RefundOnReject bool
	// OncePerDay allows one live withdrawal per member per calendar day in
	// Location.
	OncePerDay bool
	Location   *time.Location
	Catalogue  *ledger.Catalogue
	Now        func() time.Time
}

type Service struct {
	repo    Repository
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(repo Repository, cfg Config, log *zap.Logger, m *metrics.Metrics) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Catalogue == nil {
		cfg.Catalogue, _ = ledger.NewCatalogue(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Service{repo: repo, cfg: cfg, log: log, metrics: m}
}

func (s *Service) now() time.Time {
	return s.cfg.Now().UTC()
}

// dayStart is midnight of the current day in the configured location.
func (s *Service) dayStart() time.Time {
	now := s.cfg.Now().In(s.cfg.Location)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location).UTC()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// RegisterMember opens a zeroed account. sponsorID, when set, must name an
// existing member.
func (s *Service) RegisterMember(ctx context.Context, id uuid.UUID, username string, sponsorID *uuid.UUID) (ledger.Member, error) {
	m := ledger.Member{ID: id, Username: strings.TrimSpace(username), SponsorID: sponsorID}
	if err := m.Validate(); err != nil {
		return ledger.Member{}, err
	}
	m, err := s.repo.CreateMember(ctx, m)
	if err != nil {
		return ledger.Member{}, err
	}
	fields := []zap.Field{zap.Stringer("member_id", m.ID), zap.String("username", m.Username)}
	if m.SponsorID != nil {
		fields = append(fields, zap.Stringer("sponsor_id", *m.SponsorID))
	}
	s.log.Info("member_registered", fields...)
	return m, nil
}

// GetSponsor returns the member who referred memberID, or nil if nobody did.
func (s *Service) GetSponsor(ctx context.Context, memberID uuid.UUID) (*ledger.Member, error) {
	m, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.SponsorID == nil {
		return nil, nil
	}
	sponsor, err := s.repo.GetMember(ctx, *m.SponsorID)
	if err != nil {
		return nil, err
	}
	return &sponsor, nil
}

// ListReferrals pages through the members memberID sponsored, directly or
// further down the tree, oldest first.
func (s *Service) ListReferrals(ctx context.Context, memberID uuid.UUID, level string, page, pageSize int) ([]ledger.Referral, int, error) {
	l, err := ledger.ParseReferralLevel(level)
	if err != nil {
		return nil, 0, err
	}
	if err := ledger.CheckPage(page, pageSize); err != nil {
		return nil, 0, err
	}
	return s.repo.ListReferrals(ctx, memberID, l, page, pageSize)
}

func (s *Service) GetEarnings(ctx context.Context, memberID uuid.UUID) (ledger.Earnings, error) {
	return s.repo.GetEarnings(ctx, memberID)
}

// Dashboard is a member's balances plus whether a withdrawal was already
// filed today.
type Dashboard struct {
	Earnings       ledger.Earnings
	WithdrawnToday bool
}

func (s *Service) Dashboard(ctx context.Context, memberID uuid.UUID) (Dashboard, error) {
	e, err := s.repo.GetEarnings(ctx, memberID)
	if err != nil {
		return Dashboard{}, err
	}
	done, err := s.repo.WithdrawnSince(ctx, memberID, s.dayStart())
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Earnings: e, WithdrawnToday: done}, nil
}

// Deposit tops up the member's wallet.
func (s *Service) Deposit(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, details string) (ledger.Earnings, ledger.TransactionRecord, error) {
	return s.credit(ctx, ledger.Entry{
		MemberID:    memberID,
		Amount:      amount,
		Description: ledger.DescriptionDeposit,
		Details:     details,
	}, ledger.Amounts{Wallet: amount})
}

func (s *Service) CreditReferralBounty(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, details string) (ledger.Earnings, ledger.TransactionRecord, error) {
	return s.credit(ctx, ledger.Entry{
		MemberID:    memberID,
		Amount:      amount,
		Description: ledger.DescriptionReferralBounty,
		Details:     details,
	}, ledger.Amounts{Referral: amount})
}

func (s *Service) credit(ctx context.Context, entry ledger.Entry, a ledger.Amounts) (ledger.Earnings, ledger.TransactionRecord, error) {
	if err := entry.Validate(); err != nil {
		return ledger.Earnings{}, ledger.TransactionRecord{}, err
	}
	e, rec, err := s.repo.CreditEarnings(ctx, entry.MemberID, a, ledger.TransactionRecord{
		Description: entry.Description,
		Details:     strings.TrimSpace(entry.Details),
		Amount:      entry.Amount,
	})
	if err != nil {
		return ledger.Earnings{}, ledger.TransactionRecord{}, err
	}
	s.log.Info("earnings_credited",
		zap.Stringer("member_id", entry.MemberID),
		zap.String("description", entry.Description),
		zap.Stringer("amount", entry.Amount),
	)
	return e, rec, nil
}

func (s *Service) ListTransactions(ctx context.Context, memberID uuid.UUID, page, pageSize int) ([]ledger.TransactionRecord, int, error) {
	if err := ledger.CheckPage(page, pageSize); err != nil {
		return nil, 0, err
	}
	return s.repo.ListTransactions(ctx, memberID, page, pageSize)
}

// outcome labels an operation's result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrValidation):
		return "invalid"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ledger.ErrNotReady):
		return "not_ready"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, ledger.ErrAlreadyWithdrawnToday):
		return "already_withdrawn_today"
	}
	return "error"
}

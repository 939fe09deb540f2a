package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"alliance.ledger/internal/ledger"
)

// ActivePackage is an unclaimed connection with its elapsed term in percent.
type ActivePackage struct {
	ledger.PackageConnection
	Completion float64
}

// PurchasePackage moves principal from the wallet into a catalogue package.
func (s *Service) PurchasePackage(ctx context.Context, memberID uuid.UUID, packageName string, principal decimal.Decimal) (ledger.PackageConnection, ledger.Earnings, error) {
	p, ok := s.cfg.Catalogue.Lookup(packageName)
	if !ok {
		return ledger.PackageConnection{}, ledger.Earnings{}, ledger.Invalid("package", "unknown package")
	}
	conn, err := ledger.Purchase{MemberID: memberID, PackageName: p.Name, Principal: principal}.Connection(p, s.now())
	if err != nil {
		return ledger.PackageConnection{}, ledger.Earnings{}, err
	}

	conn, e, err := s.repo.CreatePackageConnection(ctx, conn)
	if err != nil {
		return ledger.PackageConnection{}, ledger.Earnings{}, err
	}
	s.log.Info("package_purchased",
		zap.Stringer("connection_id", conn.ID),
		zap.Stringer("member_id", conn.MemberID),
		zap.String("package", conn.PackageName),
		zap.Stringer("principal", conn.Principal),
		zap.Time("completion_date", conn.CompletionDate),
	)
	return conn, e, nil
}

func (s *Service) ListActivePackages(ctx context.Context, memberID uuid.UUID) ([]ActivePackage, error) {
	conns, err := s.repo.ActivePackages(ctx, memberID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]ActivePackage, 0, len(conns))
	for _, c := range conns {
		out = append(out, ActivePackage{PackageConnection: c, Completion: c.Completion(now)})
	}
	return out, nil
}

// ClaimPackage pays out a ready connection's principal and profit into
// olympus earnings. A connection is paid at most once.
func (s *Service) ClaimPackage(ctx context.Context, claim ledger.Claim) (ledger.ClaimResult, error) {
	if err := claim.Validate(); err != nil {
		s.metrics.Claim(outcome(err))
		return ledger.ClaimResult{}, err
	}

	res, err := s.repo.ClaimPackage(ctx, claim, s.now())
	s.metrics.Claim(outcome(err))
	if err != nil {
		return ledger.ClaimResult{}, err
	}
	s.log.Info("package_claimed",
		zap.Stringer("connection_id", res.Connection.ID),
		zap.Stringer("member_id", res.Connection.MemberID),
		zap.Stringer("payout", res.Transaction.Amount),
	)
	return res, nil
}

// MaturePackages flags connections whose term has ended as ready to claim.
func (s *Service) MaturePackages(ctx context.Context) (int64, error) {
	n, err := s.repo.MarkMatured(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.Matured(n)
	if n > 0 {
		s.log.Info("packages_matured", zap.Int64("count", n))
	}
	return n, nil
}

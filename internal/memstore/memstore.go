// Package memstore keeps the ledger in process memory. One lock guards all
// state and every write validates before it mutates, so a failed call
// leaves nothing behind.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"alliance.ledger/internal/ledger"
)

type idemKey struct {
	memberID uuid.UUID
	key      string
}

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	members     map[uuid.UUID]ledger.Member
	usernames   map[string]uuid.UUID
	sponsored   map[uuid.UUID][]uuid.UUID
	withdrawals map[uuid.UUID][]uuid.UUID
	earnings    map[uuid.UUID]ledger.Earnings
	book        *ledger.Book
	idempotency map[idemKey]uuid.UUID
	connections map[uuid.UUID]ledger.PackageConnection
	log         *ledger.Log
}

// New returns an empty store. now defaults to time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:         now,
		members:     make(map[uuid.UUID]ledger.Member),
		usernames:   make(map[string]uuid.UUID),
		sponsored:   make(map[uuid.UUID][]uuid.UUID),
		withdrawals: make(map[uuid.UUID][]uuid.UUID),
		earnings:    make(map[uuid.UUID]ledger.Earnings),
		book:        ledger.NewBook(),
		idempotency: make(map[idemKey]uuid.UUID),
		connections: make(map[uuid.UUID]ledger.PackageConnection),
		log:         ledger.NewLog(now),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) CreateMember(ctx context.Context, m ledger.Member) (ledger.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.ToLower(m.Username)
	if _, ok := s.members[m.ID]; ok {
		return ledger.Member{}, ledger.ErrMemberExists
	}
	if _, ok := s.usernames[name]; ok {
		return ledger.Member{}, ledger.ErrMemberExists
	}
	if m.SponsorID != nil {
		sponsor := *m.SponsorID
		if _, ok := s.members[sponsor]; !ok {
			return ledger.Member{}, ledger.Invalid("sponsor_id", "unknown member")
		}
		m.SponsorID = &sponsor
		s.sponsored[sponsor] = append(s.sponsored[sponsor], m.ID)
	}

	m.CreatedAt = s.now().UTC()
	s.members[m.ID] = m
	s.usernames[name] = m.ID
	e := ledger.NewEarnings(m.ID)
	e.UpdatedAt = m.CreatedAt
	s.earnings[m.ID] = e
	return m, nil
}

func (s *Store) GetMember(ctx context.Context, id uuid.UUID) (ledger.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[id]
	if !ok {
		return ledger.Member{}, ledger.ErrNotFound
	}
	return m, nil
}

// ListReferrals walks the sponsor tree below memberID breadth first and
// returns one page of the members at the level's depths, oldest first.
func (s *Store) ListReferrals(ctx context.Context, memberID uuid.UUID, level ledger.ReferralLevel, page, pageSize int) ([]ledger.Referral, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.members[memberID]; !ok {
		return nil, 0, ledger.ErrNotFound
	}
	minDepth, maxDepth := level.Depths()
	var refs []ledger.Referral
	frontier := []uuid.UUID{memberID}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []uuid.UUID
		for _, id := range frontier {
			next = append(next, s.sponsored[id]...)
		}
		if depth >= minDepth {
			for _, id := range next {
				refs = append(refs, ledger.Referral{Member: s.members[id], Depth: depth})
			}
		}
		frontier = next
	}
	ledger.SortReferrals(refs)
	return ledger.PageReferrals(refs, page, pageSize), len(refs), nil
}

func (s *Store) GetEarnings(ctx context.Context, memberID uuid.UUID) (ledger.Earnings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.earnings[memberID]
	if !ok {
		return ledger.Earnings{}, ledger.ErrNotFound
	}
	return e, nil
}

func (s *Store) CreditEarnings(ctx context.Context, memberID uuid.UUID, a ledger.Amounts, rec ledger.TransactionRecord) (ledger.Earnings, ledger.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.earnings[memberID]
	if !ok {
		return ledger.Earnings{}, ledger.TransactionRecord{}, ledger.ErrNotFound
	}
	if err := e.Credit(a); err != nil {
		return ledger.Earnings{}, ledger.TransactionRecord{}, err
	}
	e = s.saveEarnings(e)
	rec.MemberID = memberID
	return e, s.log.Append(rec), nil
}

func (s *Store) saveEarnings(e ledger.Earnings) ledger.Earnings {
	e.UpdatedAt = s.now().UTC()
	s.earnings[e.MemberID] = e
	return e
}

func (s *Store) ListTransactions(ctx context.Context, memberID uuid.UUID, page, pageSize int) ([]ledger.TransactionRecord, int, error) {
	return s.log.Query(memberID, page, pageSize)
}

// TransactionSum totals the member's log. For an account opened at zero it
// equals wallet plus combined earnings.
func (s *Store) TransactionSum(memberID uuid.UUID) decimal.Decimal {
	return s.log.Sum(memberID)
}

func (s *Store) CreateWithdrawal(ctx context.Context, in ledger.NewWithdrawal) (ledger.WithdrawalRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.earnings[in.MemberID]
	if !ok {
		return ledger.WithdrawalRequest{}, false, ledger.ErrNotFound
	}

	key := idemKey{memberID: in.MemberID, key: in.IdempotencyKey}
	if id, ok := s.idempotency[key]; ok {
		existing, _ := s.book.Get(id)
		if !existing.SamePayload(in) {
			return ledger.WithdrawalRequest{}, false, ledger.ErrIdempotencyConflict
		}
		return existing, true, nil
	}

	if !in.DayStart.IsZero() && s.withdrawnSince(in.MemberID, in.DayStart) {
		return ledger.WithdrawalRequest{}, false, ledger.ErrAlreadyWithdrawnToday
	}
	if err := e.Debit(in.Source.Amounts(in.Amount)); err != nil {
		return ledger.WithdrawalRequest{}, false, err
	}

	w := ledger.WithdrawalRequest{
		ID:             uuid.New(),
		MemberID:       in.MemberID,
		Amount:         in.Amount,
		Fee:            in.Fee,
		Source:         in.Source,
		Bank:           in.Bank,
		Status:         ledger.StatusPending,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      s.now().UTC(),
	}
	s.book.Insert(w)
	s.idempotency[key] = w.ID
	s.withdrawals[in.MemberID] = append(s.withdrawals[in.MemberID], w.ID)
	s.saveEarnings(e)
	s.log.Append(ledger.TransactionRecord{
		MemberID:    in.MemberID,
		Description: ledger.DescriptionWithdrawal,
		Details:     w.ID.String(),
		Amount:      in.Amount.Neg(),
	})
	return w, false, nil
}

// WithdrawnSince reports whether the member filed a request at or after since
// that has not been rejected.
func (s *Store) WithdrawnSince(ctx context.Context, memberID uuid.UUID, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.members[memberID]; !ok {
		return false, ledger.ErrNotFound
	}
	return s.withdrawnSince(memberID, since), nil
}

func (s *Store) withdrawnSince(memberID uuid.UUID, since time.Time) bool {
	for _, id := range s.withdrawals[memberID] {
		w, ok := s.book.Get(id)
		if ok && w.Status != ledger.StatusRejected && !w.CreatedAt.Before(since) {
			return true
		}
	}
	return false
}

func (s *Store) GetWithdrawal(ctx context.Context, id uuid.UUID) (ledger.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.book.Get(id)
	if !ok {
		return ledger.WithdrawalRequest{}, ledger.ErrNotFound
	}
	return w, nil
}

func (s *Store) TransitionWithdrawal(ctx context.Context, t ledger.Transition) (ledger.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refund := t.Refund && t.Status == ledger.StatusRejected
	var e ledger.Earnings
	if refund {
		w, ok := s.book.Get(t.RequestID)
		if !ok {
			return ledger.WithdrawalRequest{}, ledger.ErrNotFound
		}
		if e, ok = s.earnings[w.MemberID]; !ok {
			return ledger.WithdrawalRequest{}, ledger.ErrNotFound
		}
		if err := e.Restore(w.Source.Amounts(w.Amount)); err != nil {
			return ledger.WithdrawalRequest{}, err
		}
	}

	updated, err := s.book.Transition(t)
	if err != nil {
		return ledger.WithdrawalRequest{}, err
	}
	if refund {
		s.saveEarnings(e)
		s.log.Append(ledger.TransactionRecord{
			MemberID:    updated.MemberID,
			Description: ledger.DescriptionWithdrawalRefund,
			Details:     updated.ID.String(),
			Amount:      updated.Amount,
		})
	}
	return updated, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, page, pageSize int) (*ledger.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.book.Page(page, pageSize), nil
}

func (s *Store) CreatePackageConnection(ctx context.Context, conn ledger.PackageConnection) (ledger.PackageConnection, ledger.Earnings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.earnings[conn.MemberID]
	if !ok {
		return ledger.PackageConnection{}, ledger.Earnings{}, ledger.ErrNotFound
	}
	if err := e.Debit(ledger.Amounts{Wallet: conn.Principal}); err != nil {
		return ledger.PackageConnection{}, ledger.Earnings{}, err
	}

	s.connections[conn.ID] = conn
	e = s.saveEarnings(e)
	s.log.Append(ledger.TransactionRecord{
		MemberID:    conn.MemberID,
		Description: ledger.PurchasedDescription(conn.PackageName),
		Details:     conn.ID.String(),
		Amount:      conn.Principal.Neg(),
	})
	return conn, e, nil
}

func (s *Store) ActivePackages(ctx context.Context, memberID uuid.UUID) ([]ledger.PackageConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := []ledger.PackageConnection{}
	for _, c := range s.connections {
		if c.MemberID == memberID && !c.Claimed() {
			conns = append(conns, c)
		}
	}
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].PurchasedAt.Equal(conns[j].PurchasedAt) {
			return conns[i].ID.String() < conns[j].ID.String()
		}
		return conns[i].PurchasedAt.Before(conns[j].PurchasedAt)
	})
	return conns, nil
}

func (s *Store) ClaimPackage(ctx context.Context, claim ledger.Claim, at time.Time) (ledger.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[claim.ConnectionID]
	if !ok {
		return ledger.ClaimResult{}, ledger.ErrNotFound
	}
	if err := claim.Check(conn); err != nil {
		return ledger.ClaimResult{}, err
	}
	e, ok := s.earnings[conn.MemberID]
	if !ok {
		return ledger.ClaimResult{}, ledger.ErrNotFound
	}
	if err := e.Credit(ledger.Amounts{Olympus: conn.Payout()}); err != nil {
		return ledger.ClaimResult{}, err
	}

	conn.ClaimedAt = &at
	s.connections[conn.ID] = conn
	e = s.saveEarnings(e)
	rec := s.log.Append(ledger.TransactionRecord{
		MemberID:    conn.MemberID,
		Description: ledger.ClaimedDescription(conn.PackageName),
		Details:     conn.ID.String(),
		Amount:      conn.Payout(),
	})
	return ledger.ClaimResult{Connection: conn, Earnings: e, Transaction: rec}, nil
}

func (s *Store) MarkMatured(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, c := range s.connections {
		if c.Claimed() || c.ReadyToClaim || !c.Matured(now) {
			continue
		}
		c.ReadyToClaim = true
		s.connections[id] = c
		n++
	}
	return n, nil
}

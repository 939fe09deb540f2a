package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"alliance.ledger/internal/ledger"
	"alliance.ledger/internal/memstore"
	"alliance.ledger/internal/metrics"
	"alliance.ledger/internal/service"
)

type fixture struct {
	svc   *service.Service
	store *memstore.Store
	logs  *observer.ObservedLogs
	now   time.Time
	mu    sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T, refund bool, opts ...func(*service.Config)) *fixture {
	t.Helper()

	cat, err := ledger.NewCatalogue([]ledger.Package{
		{Name: "Olympus", Percentage: dec("24"), Days: 30, Minimum: dec("100")},
	})
	require.NoError(t, err)

	f := &fixture{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	core, logs := observer.New(zapcore.InfoLevel)
	f.logs = logs
	f.store = memstore.New(f.clock)
	cfg := service.Config{
		FeePercent:     dec("5"),
		RefundOnReject: refund,
		Catalogue:      cat,
		Now:            f.clock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.svc = service.New(f.store, cfg, zap.New(core), metrics.New())
	return f
}

func (f *fixture) member(t *testing.T) uuid.UUID {
	t.Helper()
	m, err := f.svc.RegisterMember(context.Background(), uuid.New(), "member-"+uuid.NewString()[:6], nil)
	require.NoError(t, err)
	return m.ID
}

func (f *fixture) withdrawal(t *testing.T, memberID uuid.UUID, amount, key string) ledger.WithdrawalRequest {
	t.Helper()
	w, _, err := f.svc.SubmitWithdrawal(context.Background(), service.WithdrawalInput{
		MemberID:       memberID,
		Amount:         dec(amount),
		Source:         "olympus",
		Bank:           ledger.BankAccount{BankName: "UnionBank", AccountName: "Cruz", AccountNumber: "1001"},
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) reconciled(t *testing.T, memberID uuid.UUID) {
	t.Helper()
	e, err := f.svc.GetEarnings(context.Background(), memberID)
	require.NoError(t, err)
	assert.True(t, e.Balanced(), "earnings out of balance: %+v", e)
	assert.True(t, f.store.TransactionSum(memberID).Equal(e.Total()),
		"log sum %s != holdings %s", f.store.TransactionSum(memberID), e.Total())
}

func TestApproveMovesRequestBetweenGroups(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	member := f.member(t)
	_, _, err := f.svc.CreditReferralBounty(ctx, member, dec("200"), "invite")
	require.NoError(t, err)
	_, _, err = f.svc.Deposit(ctx, member, dec("50"), "")
	require.NoError(t, err)
	_, err = f.svc.ClaimPackage(ctx, ledger.Claim{ConnectionID: uuid.New(), MemberID: member})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	// seed olympus earnings through a matured package
	conn, _, err := f.svc.PurchasePackage(ctx, member, "olympus", dec("50"))
	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, uuid.Nil, conn.ID)

	_, _, err = f.svc.Deposit(ctx, member, dec("950"), "")
	require.NoError(t, err)
	conn, _, err = f.svc.PurchasePackage(ctx, member, "olympus", dec("1000"))
	require.NoError(t, err)
	f.advance(30 * 24 * time.Hour)
	_, err = f.svc.MaturePackages(ctx)
	require.NoError(t, err)
	_, err = f.svc.ClaimPackage(ctx, ledger.Claim{ConnectionID: conn.ID, MemberID: member, Principal: conn.Principal, Profit: conn.Profit})
	require.NoError(t, err)

	w := f.withdrawal(t, member, "1000", "k1")
	assert.True(t, w.Fee.Equal(dec("50")))
	assert.True(t, w.Net().Equal(dec("950")))

	before, err := f.svc.ListWithdrawals(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, before.Group(ledger.StatusPending).Count)

	approver := uuid.New()
	res, err := f.svc.TransitionWithdrawal(ctx, service.TransitionInput{
		RequestID:        w.ID,
		Status:           "APPROVED",
		ApproverID:       approver,
		ApproverUsername: "approver1",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "approver1", res.Request.ApproverUsername)
	require.NotNil(t, res.Request.ApproverID)
	assert.Equal(t, approver, *res.Request.ApproverID)

	after, err := f.svc.ListWithdrawals(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Group(ledger.StatusPending).Count)
	assert.Equal(t, 1, after.Group(ledger.StatusApproved).Count)

	_, err = f.svc.TransitionWithdrawal(ctx, service.TransitionInput{
		RequestID:  w.ID,
		Status:     "REJECTED",
		ApproverID: uuid.New(),
		Note:       "late",
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	got, err := f.svc.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, got.Status)
	assert.Equal(t, "approver1", got.ApproverUsername)
	assert.Empty(t, got.RejectNote)

	f.reconciled(t, member)
}

func TestTransitionErrors(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	member := f.member(t)
	_, _, err := f.svc.CreditReferralBounty(ctx, member, dec("10"), "")
	require.NoError(t, err)

	_, err = f.svc.TransitionWithdrawal(ctx, service.TransitionInput{RequestID: uuid.New(), Status: "APPROVED", ApproverID: uuid.New()})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = f.svc.TransitionWithdrawal(ctx, service.TransitionInput{RequestID: uuid.New(), Status: "PENDING", ApproverID: uuid.New()})
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = f.svc.TransitionWithdrawal(ctx, service.TransitionInput{RequestID: uuid.New(), Status: "CANCELLED", ApproverID: uuid.New()})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestRejectWithoutNoteIsFlagged(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	member := f.member(t)
	_, _, err := f.svc.CreditReferralBounty(ctx, member, dec("300"), "")
	require.NoError(t, err)

	w, _, err := f.svc.SubmitWithdrawal(ctx, service.WithdrawalInput{
		MemberID:       member,
		Amount:         dec("100"),
		Source:         "REFERRAL",
		Bank:           ledger.BankAccount{BankName: "BDO", AccountName: "Reyes", AccountNumber: "42"},
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	res, err := f.svc.TransitionWithdrawal(ctx, service.TransitionInput{
		RequestID:  w.ID,
		Status:     "rejected",
		ApproverID: uuid.New(),
		Note:       "   ",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{service.WarningNoteMissing}, res.Warnings)
	assert.Equal(t, ledger.StatusRejected, res.Request.Status)
	assert.Equal(t, 1, f.logs.FilterMessage("withdrawal_rejected_without_note").Len())

	// refund disabled: the debit stands
	e, err := f.svc.GetEarnings(ctx, member)
	require.NoError(t, err)
	assert.True(t, e.ReferralBounty.Equal(dec("200")))
	assert.True(t, e.CombinedEarnings.Equal(dec("200")))
	f.reconciled(t, member)
}

func TestRejectRefundsSource(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	member := f.member(t)
	_, _, err := f.svc.CreditReferralBounty(ctx, member, dec("300"), "")
	require.NoError(t, err)

	w, _, err := f.svc.SubmitWithdrawal(ctx, service.WithdrawalInput{
		MemberID:       member,
		Amount:         dec("100"),
		Source:         "REFERRAL",
		Bank:           ledger.BankAccount{BankName: "BDO", AccountName: "Reyes", AccountNumber: "42"},
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	res, err := f.svc.TransitionWithdrawal(ctx, service.TransitionInput{
		RequestID:  w.ID,
		Status:     "REJECTED",
		ApproverID: uuid.New(),
		Note:       "account name mismatch",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "account name mismatch", res.Request.RejectNote)

	e, err := f.svc.GetEarnings(ctx, member)
	require.NoError(t, err)
	assert.True(t, e.ReferralBounty.Equal(dec("300")))

	recs, total, err := f.svc.ListTransactions(ctx, member, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, ledger.DescriptionWithdrawalRefund, recs[0].Description)
	f.reconciled(t, member)
}

func TestSubmitWithdrawalReplay(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	member := f.member(t)
	_, _, err := f.svc.CreditReferralBounty(ctx, member, dec("100"), "")
	require.NoError(t, err)

	in := service.WithdrawalInput{
		MemberID:       member,
		Amount:         dec("60"),
		Source:         "REFERRAL",
		Bank:           ledger.BankAccount{BankName: "BDO", AccountName: "Reyes", AccountNumber: "42"},
		IdempotencyKey: "same",
	}
	first, replayed, err := f.svc.SubmitWithdrawal(ctx, in)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := f.svc.SubmitWithdrawal(ctx, in)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)

	in.Amount = dec("30")
	_, _, err = f.svc.SubmitWithdrawal(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrIdempotencyConflict)

	in.IdempotencyKey = "other"
	in.Amount = dec("60")
	_, _, err = f.svc.SubmitWithdrawal(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	in.Amount = dec("1.005")
	_, _, err = f.svc.SubmitWithdrawal(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	f.reconciled(t, member)
}

func TestClaimScenario(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	member := f.member(t)
	_, _, err := f.svc.Deposit(ctx, member, dec("500"), "")
	require.NoError(t, err)

	conn, e, err := f.svc.PurchasePackage(ctx, member, "Olympus", dec("500"))
	require.NoError(t, err)
	assert.True(t, conn.Profit.Equal(dec("120")))
	assert.True(t, e.Wallet.IsZero())

	claim := ledger.Claim{ConnectionID: conn.ID, MemberID: member, Principal: dec("500"), Profit: dec("120")}
	_, err = f.svc.ClaimPackage(ctx, claim)
	assert.ErrorIs(t, err, ledger.ErrNotReady)

	f.advance(15 * 24 * time.Hour)
	active, err := f.svc.ListActivePackages(ctx, member)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.InDelta(t, 50.0, active[0].Completion, 0.001)

	f.advance(15 * 24 * time.Hour)
	n, err := f.svc.MaturePackages(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	wrong := claim
	wrong.Profit = dec("121")
	_, err = f.svc.ClaimPackage(ctx, wrong)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	res, err := f.svc.ClaimPackage(ctx, claim)
	require.NoError(t, err)
	assert.True(t, res.Earnings.OlympusEarnings.Equal(dec("620")))
	assert.True(t, res.Earnings.CombinedEarnings.Equal(dec("620")))
	assert.True(t, res.Transaction.Amount.Equal(dec("620")))
	assert.Equal(t, "Olympus Package Claimed", res.Transaction.Description)

	active, err = f.svc.ListActivePackages(ctx, member)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = f.svc.ClaimPackage(ctx, claim)
	assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)

	e, err = f.svc.GetEarnings(ctx, member)
	require.NoError(t, err)
	assert.True(t, e.OlympusEarnings.Equal(dec("620")))
	f.reconciled(t, member)
}

func TestClaimForeignConnection(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	owner, other := f.member(t), f.member(t)
	_, _, err := f.svc.Deposit(ctx, owner, dec("100"), "")
	require.NoError(t, err)
	conn, _, err := f.svc.PurchasePackage(ctx, owner, "Olympus", dec("100"))
	require.NoError(t, err)

	f.advance(31 * 24 * time.Hour)
	_, err = f.svc.MaturePackages(ctx)
	require.NoError(t, err)

	_, err = f.svc.ClaimPackage(ctx, ledger.Claim{ConnectionID: conn.ID, MemberID: other, Principal: conn.Principal, Profit: conn.Profit})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestConcurrentTransitionsSucceedOnce(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	member := f.member(t)
	_, _, err := f.svc.CreditReferralBounty(ctx, member, dec("100"), "")
	require.NoError(t, err)
	w, _, err := f.svc.SubmitWithdrawal(ctx, service.WithdrawalInput{
		MemberID:       member,
		Amount:         dec("100"),
		Source:         "REFERRAL",
		Bank:           ledger.BankAccount{BankName: "BDO", AccountName: "Reyes", AccountNumber: "42"},
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		invalid int
	)
	for i := 0; i < 10; i++ {
		status := "APPROVED"
		if i%2 == 1 {
			status = "REJECTED"
		}
		wg.Add(1)
		go func(i int, status string) {
			defer wg.Done()
			_, err := f.svc.TransitionWithdrawal(ctx, service.TransitionInput{
				RequestID:  w.ID,
				Status:     status,
				ApproverID: uuid.New(),
				Note:       fmt.Sprintf("approver %d", i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, ledger.ErrInvalidTransition):
				invalid++
			}
		}(i, status)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 9, invalid)
	f.reconciled(t, member)
}

func TestListTransactionsOrderAcrossPages(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	member := f.member(t)

	for i := 1; i <= 7; i++ {
		_, _, err := f.svc.Deposit(ctx, member, decimal.NewFromInt(int64(i)), "")
		require.NoError(t, err)
		if i%3 != 0 {
			f.advance(time.Minute)
		}
	}

	var all []ledger.TransactionRecord
	for page := 1; page <= 3; page++ {
		recs, total, err := f.svc.ListTransactions(ctx, member, page, 3)
		require.NoError(t, err)
		assert.Equal(t, 7, total)
		all = append(all, recs...)
	}
	require.Len(t, all, 7)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt))
		assert.Less(t, all[i].Seq, all[i-1].Seq)
	}

	_, _, err := f.svc.ListTransactions(ctx, member, 1, 101)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestRegisterMemberValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.RegisterMember(ctx, uuid.New(), "  ", nil)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	id := uuid.New()
	_, err = f.svc.RegisterMember(ctx, id, "dup", nil)
	require.NoError(t, err)
	_, err = f.svc.RegisterMember(ctx, id, "dup2", nil)
	assert.ErrorIs(t, err, ledger.ErrMemberExists)

	_, _, err = f.svc.Deposit(ctx, uuid.New(), dec("10"), "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, _, err = f.svc.Deposit(ctx, id, dec("-1"), "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSponsorAndReferrals(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	root, err := f.svc.RegisterMember(ctx, uuid.New(), "root", nil)
	require.NoError(t, err)
	ally, err := f.svc.RegisterMember(ctx, uuid.New(), "ally", &root.ID)
	require.NoError(t, err)
	f.advance(time.Minute)
	legion, err := f.svc.RegisterMember(ctx, uuid.New(), "legion", &ally.ID)
	require.NoError(t, err)

	sponsor, err := f.svc.GetSponsor(ctx, legion.ID)
	require.NoError(t, err)
	require.NotNil(t, sponsor)
	assert.Equal(t, "ally", sponsor.Username)

	none, err := f.svc.GetSponsor(ctx, root.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = f.svc.GetSponsor(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	refs, total, err := f.svc.ListReferrals(ctx, root.ID, "indirect", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, refs, 1)
	assert.Equal(t, legion.ID, refs[0].Member.ID)

	_, _, err = f.svc.ListReferrals(ctx, root.ID, "sideways", 1, 10)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	_, _, err = f.svc.ListReferrals(ctx, root.ID, "direct", ledger.MaxPage+1, 10)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	self := uuid.New()
	_, err = f.svc.RegisterMember(ctx, self, "self", &self)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	entry := f.logs.FilterMessage("member_registered").FilterField(zap.Stringer("sponsor_id", ally.ID)).All()
	assert.Len(t, entry, 1)
}

func TestOncePerDayUsesConfiguredLocation(t *testing.T) {
	manila := time.FixedZone("PHT", 8*60*60)
	f := newFixture(t, true, func(c *service.Config) {
		c.OncePerDay = true
		c.Location = manila
	})
	ctx := context.Background()
	member := f.member(t)
	_, _, err := f.svc.CreditReferralBounty(ctx, member, dec("300"), "")
	require.NoError(t, err)

	input := service.WithdrawalInput{
		MemberID:       member,
		Amount:         dec("100"),
		Source:         "referral",
		Bank:           ledger.BankAccount{BankName: "BDO", AccountName: "Cruz", AccountNumber: "1001"},
		IdempotencyKey: "day-1",
	}
	_, _, err = f.svc.SubmitWithdrawal(ctx, input)
	require.NoError(t, err)

	d, err := f.svc.Dashboard(ctx, member)
	require.NoError(t, err)
	assert.True(t, d.WithdrawnToday)
	assert.True(t, d.Earnings.TotalEarnings.Equal(dec("300")))

	input.IdempotencyKey = "day-1b"
	_, _, err = f.svc.SubmitWithdrawal(ctx, input)
	assert.ErrorIs(t, err, ledger.ErrAlreadyWithdrawnToday)

	// 09:00 UTC is 17:00 in Manila; seven hours later it is the next day there
	f.advance(7 * time.Hour)
	d, err = f.svc.Dashboard(ctx, member)
	require.NoError(t, err)
	assert.False(t, d.WithdrawnToday)

	input.IdempotencyKey = "day-2"
	_, _, err = f.svc.SubmitWithdrawal(ctx, input)
	require.NoError(t, err)
	f.reconciled(t, member)
}

func TestSubmitWithdrawalRejectsUnboundedAmounts(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	member := f.member(t)

	for _, amount := range []string{"1e200000000", "1e17", "0.001"} {
		done := make(chan error, 1)
		go func() {
			_, _, err := f.svc.SubmitWithdrawal(ctx, service.WithdrawalInput{
				MemberID:       member,
				Amount:         dec(amount),
				Source:         "olympus",
				Bank:           ledger.BankAccount{BankName: "BDO", AccountName: "Cruz", AccountNumber: "1001"},
				IdempotencyKey: "k-" + amount,
			})
			done <- err
		}()
		select {
		case err := <-done:
			var ve *ledger.ValidationError
			require.ErrorAs(t, err, &ve, amount)
			assert.Equal(t, "amount", ve.Field)
		case <-time.After(2 * time.Second):
			t.Fatalf("withdrawal of %s did not return", amount)
		}
	}

	_, _, err := f.svc.Deposit(ctx, member, dec("1e17"), "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
	_, _, err = f.svc.Deposit(ctx, member, ledger.MaxAmount, "")
	require.NoError(t, err)
	_, _, err = f.svc.Deposit(ctx, member, dec("0.01"), "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

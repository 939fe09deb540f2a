package ledger_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alliance.ledger/internal/ledger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestEarningsCreditRecomputesCombined(t *testing.T) {
	e := ledger.NewEarnings(uuid.New())

	require.NoError(t, e.Credit(ledger.Amounts{Olympus: dec("620"), Referral: dec("30.50"), Wallet: dec("100")}))

	assert.True(t, e.OlympusEarnings.Equal(dec("620")))
	assert.True(t, e.ReferralBounty.Equal(dec("30.50")))
	assert.True(t, e.Wallet.Equal(dec("100")))
	assert.True(t, e.CombinedEarnings.Equal(dec("650.50")), "combined = %s", e.CombinedEarnings)
	assert.True(t, e.Balanced())
}

func TestEarningsDebitInsufficientFunds(t *testing.T) {
	e := ledger.NewEarnings(uuid.New())
	require.NoError(t, e.Credit(ledger.Amounts{Olympus: dec("50")}))

	err := e.Debit(ledger.Amounts{Olympus: dec("100")})

	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.True(t, e.OlympusEarnings.Equal(dec("50")))
	assert.True(t, e.CombinedEarnings.Equal(dec("50")))
}

func TestEarningsDebitIsAllOrNothing(t *testing.T) {
	e := ledger.NewEarnings(uuid.New())
	require.NoError(t, e.Credit(ledger.Amounts{Olympus: dec("500"), Referral: dec("10")}))

	err := e.Debit(ledger.Amounts{Olympus: dec("100"), Referral: dec("20")})

	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.True(t, e.OlympusEarnings.Equal(dec("500")))
	assert.True(t, e.ReferralBounty.Equal(dec("10")))
}

func TestEarningsRejectsNegativeAmounts(t *testing.T) {
	e := ledger.NewEarnings(uuid.New())

	assert.ErrorIs(t, e.Credit(ledger.Amounts{Wallet: dec("-1")}), ledger.ErrValidation)
	assert.ErrorIs(t, e.Debit(ledger.Amounts{Referral: dec("-1")}), ledger.ErrValidation)
	assert.True(t, e.Total().IsZero())
}

func TestEarningsInvariantHoldsOverSequence(t *testing.T) {
	e := ledger.NewEarnings(uuid.New())
	ops := []struct {
		credit bool
		a      ledger.Amounts
	}{
		{true, ledger.Amounts{Olympus: dec("100")}},
		{true, ledger.Amounts{Referral: dec("40")}},
		{false, ledger.Amounts{Olympus: dec("30")}},
		{false, ledger.Amounts{Referral: dec("50")}},
		{true, ledger.Amounts{Wallet: dec("5"), Olympus: dec("0.25")}},
		{false, ledger.Amounts{Olympus: dec("70.25"), Referral: dec("40")}},
	}
	for _, op := range ops {
		if op.credit {
			_ = e.Credit(op.a)
		} else {
			_ = e.Debit(op.a)
		}
		require.True(t, e.Balanced(), "unbalanced after %+v: %+v", op, e)
	}
	assert.True(t, e.CombinedEarnings.IsZero())
	assert.True(t, e.Wallet.Equal(dec("5")))
}

func TestParseSource(t *testing.T) {
	s, err := ledger.ParseSource("REFERRAL")
	require.NoError(t, err)
	a := s.Amounts(dec("3"))
	assert.True(t, a.Referral.Equal(dec("3")))
	assert.True(t, a.Olympus.IsZero())

	_, err = ledger.ParseSource("WALLET")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCheckAmount(t *testing.T) {
	assert.NoError(t, ledger.CheckAmount("amount", dec("10.25")))
	assert.ErrorIs(t, ledger.CheckAmount("amount", dec("0")), ledger.ErrValidation)
	assert.ErrorIs(t, ledger.CheckAmount("amount", dec("-3")), ledger.ErrValidation)
	assert.ErrorIs(t, ledger.CheckAmount("amount", dec("1.001")), ledger.ErrValidation)
	assert.NoError(t, ledger.CheckAmount("amount", dec("1.500")))
	assert.NoError(t, ledger.CheckAmount("amount", ledger.MaxAmount))
	assert.ErrorIs(t, ledger.CheckAmount("amount", dec("1e17")), ledger.ErrValidation)
	assert.ErrorIs(t, ledger.CheckAmount("amount", dec("1e-200000000")), ledger.ErrValidation)
}

func TestCheckAmountHugeExponentReturnsQuickly(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		done <- ledger.CheckAmount("amount", dec("1e200000000"))
	}()

	select {
	case err := <-done:
		var ve *ledger.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "amount", ve.Field)
	case <-time.After(time.Second):
		t.Fatal("CheckAmount did not return for a huge exponent")
	}
}

func TestEarningsCreditStopsAtMaxAmount(t *testing.T) {
	e := ledger.NewEarnings(uuid.New())
	require.NoError(t, e.Credit(ledger.Amounts{Olympus: ledger.MaxAmount}))

	err := e.Credit(ledger.Amounts{Olympus: dec("0.01")})

	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.True(t, e.OlympusEarnings.Equal(ledger.MaxAmount))
	assert.True(t, e.TotalEarnings.Equal(ledger.MaxAmount))
}

func TestTotalEarningsIgnoresRefundsAndWithdrawals(t *testing.T) {
	e := ledger.NewEarnings(uuid.New())
	require.NoError(t, e.Credit(ledger.Amounts{Olympus: dec("620"), Referral: dec("30"), Wallet: dec("100")}))
	require.NoError(t, e.Debit(ledger.Amounts{Olympus: dec("200")}))
	require.NoError(t, e.Restore(ledger.Amounts{Olympus: dec("200")}))
	require.NoError(t, e.Debit(ledger.Amounts{Referral: dec("30")}))

	assert.True(t, e.TotalEarnings.Equal(dec("650")), "total = %s", e.TotalEarnings)
	assert.True(t, e.CombinedEarnings.Equal(dec("620")))
	assert.True(t, e.Balanced())
}

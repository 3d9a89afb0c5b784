package service_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
)

// seedOrder books the commissions of a 10000 order placed by escort, whose
// parent is mid tier and grandparent top tier
func seedOrder(t *testing.T, ts *testService, orderID string) []*domain.DistributionRecord {
	t.Helper()
	_, records, err := ts.RecordOrder(ts.ctx, orderID, "escort", 10000)
	require.NoError(t, err)
	return records
}

func getLedgerService(t *testing.T) *testService {
	t.Helper()
	ts := getTestService(t)
	ts.saveRates(t, "2", "3", "1", "50")
	ts.register(t, "grandparent", domain.LevelTop, "")
	ts.register(t, "parent", domain.LevelMid, "grandparent")
	ts.register(t, "escort", domain.LevelBase, "parent")
	return ts
}

func TestLedger(t *testing.T) {
	t.Run("creates pending records in display units", testCreateRecords)
	t.Run("replayed order completions are skipped", testCreateRecordsReplay)
	t.Run("settle credits wallets once", testSettle)
	t.Run("settling an order without records is a no-op", testSettleNothing)
	t.Run("cancel voids pending records without wallet effect", testCancelPending)
	t.Run("cancel reverses settled records", testCancelSettled)
	t.Run("settle due respects the cooling off period", testSettleDue)
}

func testCreateRecords(t *testing.T) {
	ts := getLedgerService(t)
	records := seedOrder(t, ts, "order-1")

	require.Len(t, records, 2)
	parent := records[0]
	assert.Equal(t, "parent", parent.BeneficiaryID)
	assert.Equal(t, "escort", parent.SourceAgentID)
	assert.Equal(t, domain.LevelMid, parent.BeneficiaryLevel)
	assert.Equal(t, 1, parent.RelationDepth)
	assert.True(t, parent.Amount.Equal(decimal.RequireFromString("3.00")))
	assert.True(t, parent.OrderAmount.Equal(decimal.RequireFromString("100")))
	assert.True(t, parent.Rate.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, domain.RecordStatusPending, parent.Status)
	assert.Equal(t, domain.RecordTypeCommission, parent.Type)

	stored, err := ts.Ledger.Records(ts.ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, int64(0), ts.balance(t, "parent"))
}

func testCreateRecordsReplay(t *testing.T) {
	ts := getLedgerService(t)
	seedOrder(t, ts, "order-1")

	again := seedOrder(t, ts, "order-1")
	assert.Empty(t, again)

	stored, err := ts.Ledger.Records(ts.ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func testSettle(t *testing.T) {
	ts := getLedgerService(t)
	seedOrder(t, ts, "order-1")
	ts.advance(time.Hour)

	n, err := ts.Ledger.Settle(ts.ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(300), ts.balance(t, "parent"))
	assert.Equal(t, int64(200), ts.balance(t, "grandparent"))

	records, err := ts.Ledger.Records(ts.ctx, "order-1")
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, domain.RecordStatusSettled, rec.Status)
		require.NotNil(t, rec.SettledAt)
		assert.Equal(t, ts.now, *rec.SettledAt)
	}

	lines, err := ts.Ledger.WalletLines(ts.ctx, "parent")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, domain.WalletLineCommissionSettle, lines[0].Kind)
	assert.Equal(t, int64(300), lines[0].AmountMinor)
	assert.Equal(t, int64(300), lines[0].BalanceAfter)
	assert.Equal(t, "order-1", lines[0].OrderID)

	// already settled
	n, err = ts.Ledger.Settle(ts.ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(300), ts.balance(t, "parent"))
}

func testSettleNothing(t *testing.T) {
	ts := getLedgerService(t)

	n, err := ts.Ledger.Settle(ts.ctx, "unknown-order")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = ts.Ledger.Settle(ts.ctx, "")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func testCancelPending(t *testing.T) {
	ts := getLedgerService(t)
	seedOrder(t, ts, "order-1")

	n, err := ts.Ledger.Cancel(ts.ctx, "order-1", "refunded")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := ts.Ledger.Records(ts.ctx, "order-1")
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, domain.RecordStatusCancelled, rec.Status)
		assert.Equal(t, "refunded", rec.CancelReason)
		assert.NotNil(t, rec.CancelledAt)
	}
	lines, err := ts.Ledger.WalletLines(ts.ctx, "parent")
	require.NoError(t, err)
	assert.Empty(t, lines)

	// cancelled records never settle
	n, err = ts.Ledger.Settle(ts.ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(0), ts.balance(t, "parent"))
}

func testCancelSettled(t *testing.T) {
	ts := getLedgerService(t)
	seedOrder(t, ts, "order-1")
	_, err := ts.Ledger.Settle(ts.ctx, "order-1")
	require.NoError(t, err)

	n, err := ts.Ledger.Cancel(ts.ctx, "order-1", "chargeback")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(0), ts.balance(t, "parent"))
	assert.Equal(t, int64(0), ts.balance(t, "grandparent"))

	lines, err := ts.Ledger.WalletLines(ts.ctx, "parent")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, domain.WalletLineCommissionReversal, lines[1].Kind)
	assert.Equal(t, int64(-300), lines[1].AmountMinor)
	assert.Equal(t, int64(0), lines[1].BalanceAfter)

	// cancelled records stay untouched
	n, err = ts.Ledger.Cancel(ts.ctx, "order-1", "again")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	records, err := ts.Ledger.Records(ts.ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "chargeback", records[0].CancelReason)
}

func testSettleDue(t *testing.T) {
	ts := getLedgerService(t)
	seedOrder(t, ts, "order-old")
	ts.advance(3 * 24 * time.Hour)
	seedOrder(t, ts, "order-new")

	ts.advance(5 * 24 * time.Hour)
	summary, err := ts.Ledger.SettleDue(ts.ctx, ts.now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Orders)
	assert.Equal(t, 2, summary.Records)
	assert.Empty(t, summary.Failed)

	records, err := ts.Ledger.Records(ts.ctx, "order-new")
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, domain.RecordStatusPending, rec.Status)
	}

	ts.advance(3 * 24 * time.Hour)
	summary, err = ts.Ledger.SettleDue(ts.ctx, ts.now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Orders)
	assert.Equal(t, int64(600), ts.balance(t, "parent"))
}

func TestInviteBonus(t *testing.T) {
	t.Run("granted once per recruit", testInviteBonusOnce)
	t.Run("granted once under concurrent triggers", testInviteBonusConcurrent)
	t.Run("nothing granted without a configured bonus", testInviteBonusDisabled)
	t.Run("recruit must belong to the recruiter", testInviteBonusWrongRecruiter)
	t.Run("bonus is not affected by order cancellation", testInviteBonusSurvivesCancel)
}

func testInviteBonusOnce(t *testing.T) {
	ts := getLedgerService(t)

	rec, granted, err := ts.Ledger.GrantDirectInviteBonus(ts.ctx, "parent", "escort", "order-1")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, domain.RecordTypeInviteBonus, rec.Type)
	assert.Equal(t, domain.RecordStatusSettled, rec.Status)
	assert.True(t, rec.Rate.IsZero())
	assert.True(t, rec.Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, int64(5000), ts.balance(t, "parent"))

	again, granted, err := ts.Ledger.GrantDirectInviteBonus(ts.ctx, "parent", "escort", "order-2")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, int64(5000), ts.balance(t, "parent"))
}

func testInviteBonusConcurrent(t *testing.T) {
	ts := getLedgerService(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := ts.Ledger.GrantDirectInviteBonus(ts.ctx, "parent", "escort", "order-1")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, int64(5000), ts.balance(t, "parent"))
	lines, err := ts.Ledger.WalletLines(ts.ctx, "parent")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func testInviteBonusDisabled(t *testing.T) {
	ts := getTestService(t)
	ts.register(t, "parent", domain.LevelMid, "")
	ts.register(t, "escort", domain.LevelBase, "parent")

	// no configuration at all
	rec, granted, err := ts.Ledger.GrantDirectInviteBonus(ts.ctx, "parent", "escort", "order-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, granted)

	ts.saveRates(t, "2", "3", "1", "0")
	rec, granted, err = ts.Ledger.GrantDirectInviteBonus(ts.ctx, "parent", "escort", "order-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, granted)
	assert.Equal(t, int64(0), ts.balance(t, "parent"))
}

func testInviteBonusWrongRecruiter(t *testing.T) {
	ts := getLedgerService(t)

	_, _, err := ts.Ledger.GrantDirectInviteBonus(ts.ctx, "grandparent", "escort", "order-1")
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Equal(t, int64(0), ts.balance(t, "grandparent"))
}

func testInviteBonusSurvivesCancel(t *testing.T) {
	ts := getLedgerService(t)
	seedOrder(t, ts, "order-1")
	_, _, err := ts.Ledger.GrantDirectInviteBonus(ts.ctx, "parent", "escort", "order-1")
	require.NoError(t, err)

	_, err = ts.Ledger.Cancel(ts.ctx, "order-1", "refunded")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), ts.balance(t, "parent"))
}

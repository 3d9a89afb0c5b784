package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStatusTransitions(t *testing.T) {
	statuses := []domain.RecordStatus{
		domain.RecordStatusPending,
		domain.RecordStatusSettled,
		domain.RecordStatusCancelled,
	}
	allowed := map[domain.RecordStatus]map[domain.RecordStatus]bool{
		domain.RecordStatusPending: {domain.RecordStatusSettled: true, domain.RecordStatusCancelled: true},
		domain.RecordStatusSettled: {domain.RecordStatusCancelled: true},
	}

	now := time.Now()
	for _, from := range statuses {
		for _, to := range statuses {
			rec := &domain.DistributionRecord{ID: "r", Status: from}
			err := rec.Transition(to, now)
			if allowed[from][to] {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, rec.Status)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.Is(err, domain.ErrConflict))
			assert.Equal(t, from, rec.Status)
		}
	}
}

func TestRecordTransitionStampsTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &domain.DistributionRecord{ID: "r", Status: domain.RecordStatusPending}

	require.NoError(t, rec.Transition(domain.RecordStatusSettled, now))
	require.NotNil(t, rec.SettledAt)
	assert.Equal(t, now, *rec.SettledAt)

	require.NoError(t, rec.Transition(domain.RecordStatusCancelled, now.Add(time.Hour)))
	require.NotNil(t, rec.CancelledAt)
	assert.Equal(t, now.Add(time.Hour), *rec.CancelledAt)
}

func TestRecordDedupeKey(t *testing.T) {
	commission := &domain.DistributionRecord{OrderID: "o1", BeneficiaryID: "b", SourceAgentID: "s", Type: domain.RecordTypeCommission}
	bonusA := &domain.DistributionRecord{OrderID: "o1", BeneficiaryID: "b", SourceAgentID: "s", Type: domain.RecordTypeInviteBonus}
	bonusB := &domain.DistributionRecord{OrderID: "o2", BeneficiaryID: "b", SourceAgentID: "s", Type: domain.RecordTypeInviteBonus}

	assert.NotEqual(t, commission.DedupeKey(), bonusA.DedupeKey())
	// A bonus is unique per recruiter and recruit, whatever the order.
	assert.Equal(t, bonusA.DedupeKey(), bonusB.DedupeKey())
	assert.Equal(t, domain.InviteBonusKey("b", "s"), bonusA.DedupeKey())
}

func TestAgentTenureMonths(t *testing.T) {
	agent := &domain.Agent{CreatedAt: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)}

	assert.Equal(t, 0, agent.TenureMonths(time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, agent.TenureMonths(time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 12, agent.TenureMonths(time.Date(2027, 1, 20, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, agent.TenureMonths(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestAgentAncestorsNearestFirst(t *testing.T) {
	agent := &domain.Agent{AncestorPath: []string{"root", "grand", "parent"}}

	assert.Equal(t, []string{"parent", "grand", "root"}, agent.Ancestors())

	clone := agent.Clone()
	clone.AncestorPath[0] = "changed"
	assert.Equal(t, "root", agent.AncestorPath[0])
}

func TestParseLevel(t *testing.T) {
	for _, l := range []domain.Level{domain.LevelTop, domain.LevelMid, domain.LevelBase} {
		parsed, err := domain.ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}

	parsed, err := domain.ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelUnspecified, parsed)

	_, err = domain.ParseLevel("gold")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

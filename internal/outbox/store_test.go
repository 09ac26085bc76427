package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/splitlease/proposal-sync/internal/domain/proposal"
	"github.com/splitlease/proposal-sync/pkg/testhelper"
)

var testStart = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *testhelper.Clock) {
	t.Helper()
	db := testhelper.NewSQLiteDB(t, &Item{})
	clock := testhelper.NewClock(testStart)
	store := NewStore(db, &testhelper.SequentialIDs{})
	store.now = clock.Now
	return store, clock
}

func groupIntents(proposalID string, n int) []proposal.SyncIntent {
	intents := make([]proposal.SyncIntent, 0, n)
	for seq := 1; seq <= n; seq++ {
		intents = append(intents, proposal.SyncIntent{
			Sequence:       seq,
			TargetTable:    proposal.TableStatusLog,
			TargetRecordID: proposal.StatusLogID(proposalID, int64(seq)),
			Operation:      proposal.OperationInsert,
			Payload:        map[string]any{"proposal_id": proposalID, "seq": seq},
		})
	}
	return intents
}

func enqueue(t *testing.T, s *Store, correlationID, proposalID string, intents []proposal.SyncIntent) []Item {
	t.Helper()
	items, err := s.EnqueueTx(s.db, correlationID, proposalID, intents)
	require.NoError(t, err)
	return items
}

func claimSequences(t *testing.T, s *Store, owner string) []int {
	t.Helper()
	items, err := s.ClaimDue(context.Background(), owner, 10, time.Minute)
	require.NoError(t, err)
	seqs := make([]int, 0, len(items))
	for _, it := range items {
		seqs = append(seqs, it.Sequence)
	}
	return seqs
}

func TestStore_EnqueueTx(t *testing.T) {
	s, _ := newTestStore(t)

	items := enqueue(t, s, "corr-a", "p1", groupIntents("p1", 2))
	require.Len(t, items, 2)
	assert.Equal(t, StatusPending, items[0].Status)
	assert.Equal(t, "corr-a:1", items[0].IdempotencyKey())
	assert.JSONEq(t, `{"proposal_id":"p1","seq":2}`, string(items[1].Payload))

	_, err := s.EnqueueTx(s.db, "", "p1", groupIntents("p1", 1))
	assert.Error(t, err)

	none, err := s.EnqueueTx(s.db, "corr-b", "p1", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_EnqueueTxRollsBackWithCaller(t *testing.T) {
	s, _ := newTestStore(t)
	boom := errors.New("boom")

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.EnqueueTx(tx, "corr-a", "p1", groupIntents("p1", 2)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	group, err := s.ListGroup(context.Background(), "corr-a")
	require.NoError(t, err)
	assert.Empty(t, group)
}

func TestStore_ClaimDueFollowsSequence(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	items := enqueue(t, s, "corr-a", "p1", groupIntents("p1", 3))

	assert.Equal(t, []int{1}, claimSequences(t, s, "w1"))
	assert.Empty(t, claimSequences(t, s, "w1"), "in-flight predecessor blocks the group")

	require.NoError(t, s.MarkDelivered(ctx, items[0].ID, "w1"))
	assert.Equal(t, []int{2}, claimSequences(t, s, "w1"))

	require.NoError(t, s.MarkFailedPermanent(ctx, items[1].ID, "w1", errors.New("rejected")))
	assert.Empty(t, claimSequences(t, s, "w1"), "a parked item blocks its successors")

	require.NoError(t, s.Resolve(ctx, items[1].ID, "ops@splitlease"))
	assert.Equal(t, []int{3}, claimSequences(t, s, "w1"))

	resolved, err := s.Get(ctx, items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, resolved.Status)
	assert.Equal(t, "ops@splitlease", resolved.ResolvedBy)
}

func TestStore_ClaimDueRunsGroupsIndependently(t *testing.T) {
	s, _ := newTestStore(t)
	enqueue(t, s, "corr-a", "p1", groupIntents("p1", 2))
	enqueue(t, s, "corr-b", "p2", groupIntents("p2", 2))

	items, err := s.ClaimDue(context.Background(), "w1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "corr-a", items[0].CorrelationID)
	assert.Equal(t, "corr-b", items[1].CorrelationID)
	for _, it := range items {
		assert.Equal(t, 1, it.Sequence)
		assert.Equal(t, StatusInFlight, it.Status)
		assert.Equal(t, 1, it.AttemptCount)
		assert.Equal(t, "w1", it.LeaseOwner)
	}
}

func TestStore_ClaimDueOrdersGroupsOfOneProposal(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	first := enqueue(t, s, "corr-a", "p1", groupIntents("p1", 1))
	enqueue(t, s, "corr-b", "p1", groupIntents("p1", 1))
	enqueue(t, s, "corr-c", "p2", groupIntents("p2", 1))

	items, err := s.ClaimDue(ctx, "w1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "corr-a", items[0].CorrelationID)
	assert.Equal(t, "corr-c", items[1].CorrelationID, "other proposals are not held back")

	require.NoError(t, s.MarkRetry(ctx, first[0].ID, "w1", testStart, errors.New("503")))
	claimed, err := s.ClaimDue(ctx, "w1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "corr-a", claimed[0].CorrelationID, "a retried change still goes before the next one")

	require.NoError(t, s.MarkDelivered(ctx, first[0].ID, "w1"))
	claimed, err = s.ClaimDue(ctx, "w1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "corr-b", claimed[0].CorrelationID)
}

func TestStore_RetryWaitsUntilDue(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	items := enqueue(t, s, "corr-a", "p1", groupIntents("p1", 1))

	claimSequences(t, s, "w1")
	require.NoError(t, s.MarkRetry(ctx, items[0].ID, "w1", clock.Now().Add(30*time.Second), errors.New("503")))

	assert.Empty(t, claimSequences(t, s, "w1"))

	clock.Advance(31 * time.Second)
	claimed, err := s.ClaimDue(ctx, "w2", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].AttemptCount)
	assert.Equal(t, "503", claimed[0].LastError)
}

func TestStore_LeaseGuard(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	items := enqueue(t, s, "corr-a", "p1", groupIntents("p1", 1))

	err := s.MarkDelivered(ctx, items[0].ID, "w1")
	assert.ErrorIs(t, err, ErrLeaseLost, "pending items hold no lease")

	claimSequences(t, s, "w1")
	err = s.MarkDelivered(ctx, items[0].ID, "someone-else")
	assert.ErrorIs(t, err, ErrLeaseLost)

	assert.NoError(t, s.MarkDelivered(ctx, items[0].ID, "w1"))
}

func TestStore_RecoverExpiredLeases(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	enqueue(t, s, "corr-a", "p1", groupIntents("p1", 1))
	enqueue(t, s, "corr-b", "p2", groupIntents("p2", 1))

	claimed, err := s.ClaimDue(ctx, "w1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	requeued, parked, err := s.RecoverExpiredLeases(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, requeued, "leases still valid")
	assert.Empty(t, parked)

	clock.Advance(2 * time.Minute)
	// Both items used one attempt: with a budget of one they are parked.
	requeued, parked, err = s.RecoverExpiredLeases(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), requeued)
	require.Len(t, parked, 2)
	assert.Equal(t, claimed[0].ID, parked[0].ID)
	assert.Equal(t, StatusFailedPermanent, parked[0].Status)
	assert.Equal(t, "lease expired after final attempt", parked[0].LastError)
	assert.Equal(t, 1, parked[0].AttemptCount)

	stored, err := s.Get(ctx, parked[1].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailedPermanent, stored.Status)
	assert.Empty(t, stored.LeaseOwner)

	require.NoError(t, s.Requeue(ctx, claimed[0].ID))
	claimSequences(t, s, "w2")
	clock.Advance(2 * time.Minute)
	requeued, parked, err = s.RecoverExpiredLeases(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)
	assert.Empty(t, parked)

	item, err := s.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)
	assert.Empty(t, item.LeaseOwner)
}

func TestStore_OperatorActionsRequireParkedItem(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	items := enqueue(t, s, "corr-a", "p1", groupIntents("p1", 1))

	assert.ErrorIs(t, s.Requeue(ctx, items[0].ID), ErrItemState)
	assert.ErrorIs(t, s.Resolve(ctx, items[0].ID, "ops"), ErrItemState)
	assert.ErrorIs(t, s.Requeue(ctx, 999), ErrItemNotFound)
	assert.Error(t, s.Resolve(ctx, items[0].ID, ""))

	claimSequences(t, s, "w1")
	require.NoError(t, s.MarkFailedPermanent(ctx, items[0].ID, "w1", errors.New("400 bad request")))

	failed, err := s.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "400 bad request", failed[0].LastError)

	require.NoError(t, s.Requeue(ctx, items[0].ID))
	item, err := s.Get(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)
	assert.Equal(t, 0, item.AttemptCount)
}

func TestStore_CountByStatus(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	items := enqueue(t, s, "corr-a", "p1", groupIntents("p1", 2))
	enqueue(t, s, "corr-b", "p2", groupIntents("p2", 1))

	claimSequences(t, s, "w1")
	require.NoError(t, s.MarkDelivered(ctx, items[0].ID, "w1"))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusPending])
	assert.Equal(t, int64(1), counts[StatusInFlight])
	assert.Equal(t, int64(1), counts[StatusDelivered])
	assert.Equal(t, int64(0), counts[StatusFailedPermanent])

	byProposal, err := s.ListByProposal(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, byProposal, 2)
}

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitlease/proposal-sync/internal/domain/proposal"
	"github.com/splitlease/proposal-sync/internal/outbox"
	"github.com/splitlease/proposal-sync/pkg/testhelper"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type fixture struct {
	repo   *Repository
	queue  *outbox.Store
	engine *proposal.Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testhelper.NewSQLiteDB(t, &ProposalModel{}, &MeetingModel{}, &outbox.Item{})
	ids := &testhelper.SequentialIDs{}
	queue := outbox.NewStore(db, ids)
	return fixture{
		repo:   NewRepository(db, queue),
		queue:  queue,
		engine: proposal.NewEngine(ids).WithClock(func() time.Time { return testNow }),
	}
}

func createRequest() proposal.CreateRequest {
	return proposal.CreateRequest{
		GuestID:   "guest-1",
		HostID:    "host-1",
		ListingID: "listing-1",
		Terms: proposal.Terms{
			MoveInDate:       time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			DaysSelected:     proposal.DaySet{time.Monday, time.Tuesday, time.Wednesday},
			ReservationWeeks: 12,
			NightlyRate:      12500,
			TotalPrice:       450000,
		},
		HasRentalApplication: true,
	}
}

func (f fixture) create(t *testing.T) *proposal.Proposal {
	t.Helper()
	res, err := f.engine.Create(createRequest(), proposal.RoleGuest)
	require.NoError(t, err)
	require.NoError(t, f.repo.CommitCreate(context.Background(), res, "create-"+res.Proposal.ID))
	return res.Proposal
}

func TestRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created := f.create(t)

	got, err := f.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, proposal.StatusHostReview, got.Status)
	assert.True(t, got.DaysSelected.Equal(created.DaysSelected))
	assert.True(t, got.MoveInDate.Equal(created.MoveInDate))
	assert.Equal(t, int64(12500), got.NightlyRate)
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.HasCounteroffer())
	assert.Nil(t, got.AnsweredAt)

	group, err := f.queue.ListGroup(ctx, "create-"+created.ID)
	require.NoError(t, err)
	require.Len(t, group, 2)
	assert.Equal(t, proposal.TableProposal, group[0].TargetTable)
	assert.Equal(t, string(proposal.OperationInsert), group[0].Operation)
	assert.Equal(t, proposal.TableStatusLog, group[1].TargetTable)
	assert.Equal(t, created.ID, group[1].ProposalID)

	_, err = f.repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, proposal.ErrNotFound)
}

func TestRepository_CommitTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created := f.create(t)

	rate := int64(15000)
	res, err := f.engine.Apply(created, proposal.ActionCounteroffer, proposal.RoleHost, proposal.Payload{
		Counteroffer: &proposal.Counteroffer{NightlyRate: &rate},
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.CommitTransition(ctx, res, "corr-counter"))

	got, err := f.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusHostCounteroffer, got.Status)
	require.NotNil(t, got.HCNightlyRate)
	assert.Equal(t, rate, *got.HCNightlyRate)
	assert.Nil(t, got.HCMoveInDate)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.AnsweredAt)

	group, err := f.queue.ListGroup(ctx, "corr-counter")
	require.NoError(t, err)
	require.Len(t, group, 2)
	assert.Equal(t, string(proposal.OperationUpdate), group[0].Operation)
	assert.Equal(t, proposal.StatusLogID(created.ID, 2), group[1].TargetRecordID)

	// Accepting clears the counteroffer columns back to NULL.
	accepted, err := f.engine.Apply(got, proposal.ActionAcceptCounteroffer, proposal.RoleGuest, proposal.Payload{})
	require.NoError(t, err)
	require.NoError(t, f.repo.CommitTransition(ctx, accepted, "corr-accept"))

	got, err = f.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusAcceptedDraftingLease, got.Status)
	assert.Equal(t, rate, got.NightlyRate)
	assert.Nil(t, got.HCNightlyRate)
}

func TestRepository_CommitTransitionVersionGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created := f.create(t)

	first, err := f.engine.Apply(created, proposal.ActionAccept, proposal.RoleHost, proposal.Payload{})
	require.NoError(t, err)
	second, err := f.engine.Apply(created, proposal.ActionCancel, proposal.RoleGuest, proposal.Payload{Reason: "changed plans"})
	require.NoError(t, err)

	require.NoError(t, f.repo.CommitTransition(ctx, first, "corr-1"))
	err = f.repo.CommitTransition(ctx, second, "corr-2")
	assert.ErrorIs(t, err, proposal.ErrConcurrentModification)

	group, err := f.queue.ListGroup(ctx, "corr-2")
	require.NoError(t, err)
	assert.Empty(t, group, "a rejected commit leaves no sync items")

	got, err := f.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusAcceptedDraftingLease, got.Status)

	ghost := *second
	ghost.Proposal = second.Proposal.Clone()
	ghost.Proposal.ID = "missing"
	assert.ErrorIs(t, f.repo.CommitTransition(ctx, &ghost, "corr-3"), proposal.ErrNotFound)
}

func TestRepository_ListByPartySkipsDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	kept := f.create(t)
	gone := f.create(t)

	rejected, err := f.engine.Apply(gone, proposal.ActionCancel, proposal.RoleGuest, proposal.Payload{})
	require.NoError(t, err)
	require.NoError(t, f.repo.CommitTransition(ctx, rejected, "corr-cancel"))
	deleted, err := f.engine.Apply(rejected.Proposal, proposal.ActionDeleteProposal, proposal.RoleGuest, proposal.Payload{})
	require.NoError(t, err)
	require.NoError(t, f.repo.CommitTransition(ctx, deleted, "corr-delete"))

	for _, party := range []string{"guest-1", "host-1"} {
		list, err := f.repo.ListByParty(ctx, party, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, kept.ID, list[0].ID)
	}

	audit, err := f.repo.FindByID(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, audit.Deleted, "owners can still read deleted proposals")
}

func TestRepository_Meetings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.create(t)

	none, err := f.repo.FindMeeting(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	slot := testNow.Add(48 * time.Hour)
	requested, err := f.engine.RequestMeeting(p, nil, proposal.RoleGuest, []time.Time{slot})
	require.NoError(t, err)
	require.NoError(t, f.repo.CommitMeeting(ctx, requested, "corr-m1"))

	stored, err := f.repo.FindMeeting(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, proposal.MeetingRequested, stored.Status)
	require.Len(t, stored.ProposedTimes, 1)
	assert.True(t, stored.ProposedTimes[0].Equal(slot))

	accepted, err := f.engine.RespondMeeting(p, stored, proposal.RoleHost, proposal.MeetingResponse{Accept: true, BookedTime: &slot})
	require.NoError(t, err)
	require.NoError(t, f.repo.CommitMeeting(ctx, accepted, "corr-m2"))

	// Replaying the stale response loses the version race.
	assert.ErrorIs(t, f.repo.CommitMeeting(ctx, accepted, "corr-m3"), proposal.ErrConcurrentModification)

	group, err := f.queue.ListGroup(ctx, "corr-m2")
	require.NoError(t, err)
	require.Len(t, group, 1)
	assert.Equal(t, proposal.TableVirtualMeeting, group[0].TargetTable)
	assert.Equal(t, p.ID, group[0].ProposalID)
}

func TestRepository_ConcurrentFirstMeetingRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.create(t)
	slot := testNow.Add(24 * time.Hour)

	// Both parties loaded the proposal before either meeting row existed.
	byGuest, err := f.engine.RequestMeeting(p, nil, proposal.RoleGuest, []time.Time{slot})
	require.NoError(t, err)
	byHost, err := f.engine.RequestMeeting(p, nil, proposal.RoleHost, []time.Time{slot})
	require.NoError(t, err)

	require.NoError(t, f.repo.CommitMeeting(ctx, byGuest, "corr-g"))
	assert.ErrorIs(t, f.repo.CommitMeeting(ctx, byHost, "corr-h"), proposal.ErrConcurrentModification)

	stored, err := f.repo.FindMeeting(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.RoleGuest, stored.RequestedBy)

	lost, err := f.queue.ListGroup(ctx, "corr-h")
	require.NoError(t, err)
	assert.Empty(t, lost, "the losing request enqueues nothing")
}

package negotiation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/splitlease/proposal-sync/internal/domain/proposal"
	"github.com/splitlease/proposal-sync/pkg/telemetry/correlation"
)

// RequestMeeting asks the other party for a virtual meeting at one of times.
func (uc *UseCase) RequestMeeting(ctx context.Context, principal proposal.Principal, proposalID string, times []time.Time) (*ProposalView, error) {
	return uc.mutateMeeting(ctx, principal, proposalID, "meeting_requested",
		func(p *proposal.Proposal, m *proposal.VirtualMeeting, role proposal.Role) (*proposal.MeetingResult, error) {
			return uc.engine.RequestMeeting(p, m, role, times)
		})
}

// RespondMeeting accepts or declines the open request.
func (uc *UseCase) RespondMeeting(ctx context.Context, principal proposal.Principal, proposalID string, resp proposal.MeetingResponse) (*ProposalView, error) {
	return uc.mutateMeeting(ctx, principal, proposalID, "meeting_answered",
		func(p *proposal.Proposal, m *proposal.VirtualMeeting, role proposal.Role) (*proposal.MeetingResult, error) {
			return uc.engine.RespondMeeting(p, m, role, resp)
		})
}

// CancelMeeting withdraws an open or booked meeting.
func (uc *UseCase) CancelMeeting(ctx context.Context, principal proposal.Principal, proposalID string) (*ProposalView, error) {
	return uc.mutateMeeting(ctx, principal, proposalID, "meeting_cancelled",
		func(p *proposal.Proposal, m *proposal.VirtualMeeting, role proposal.Role) (*proposal.MeetingResult, error) {
			return uc.engine.CancelMeeting(p, m, role)
		})
}

type meetingMutation func(p *proposal.Proposal, m *proposal.VirtualMeeting, role proposal.Role) (*proposal.MeetingResult, error)

func (uc *UseCase) mutateMeeting(ctx context.Context, principal proposal.Principal, proposalID, event string, mutate meetingMutation) (*ProposalView, error) {
	p, err := uc.repo.FindByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	role := proposal.ResolveRole(p, principal)
	if role == proposal.RoleUnauthorized {
		return nil, fmt.Errorf("%w: caller is not a party to proposal %s", proposal.ErrUnauthorized, proposalID)
	}

	current, err := uc.repo.FindMeeting(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	res, err := mutate(p, current, role)
	if err != nil {
		return nil, err
	}

	cid := correlation.NewID()
	if err := uc.repo.CommitMeeting(ctx, res, cid); err != nil {
		return nil, err
	}
	uc.notifier.Notify(ctx)

	uc.logger.Info(event,
		zap.String("proposal_id", proposalID),
		zap.String("meeting_id", res.Meeting.ID),
		zap.String("meeting_status", string(res.Meeting.Status)),
		zap.String("role", string(role)),
		zap.String("correlation_id", cid),
	)
	return uc.view(p, role, res.Meeting)
}

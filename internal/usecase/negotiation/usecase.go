package negotiation

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/splitlease/proposal-sync/internal/domain/proposal"
	"github.com/splitlease/proposal-sync/internal/outbox"
	"github.com/splitlease/proposal-sync/pkg/snowflake"
	"github.com/splitlease/proposal-sync/pkg/telemetry/correlation"
	"github.com/splitlease/proposal-sync/pkg/telemetry/tracing"
)

// ProposalView is a proposal as one caller sees it.
type ProposalView struct {
	Proposal *proposal.Proposal       `json:"proposal"`
	Role     proposal.Role            `json:"role"`
	Actions  proposal.RoleActions     `json:"actions"`
	Meeting  *proposal.VirtualMeeting `json:"meeting,omitempty"`
}

// TransitionOutcome reports a committed transition.
type TransitionOutcome struct {
	ProposalView
	CorrelationID string   `json:"correlation_id"`
	Changed       []string `json:"changed_fields"`
	StatusChanged bool     `json:"status_changed"`
}

// CreateInput is a new proposal submitted by a guest or an agent.
type CreateInput struct {
	GuestID              string         `json:"guest_id"`
	HostID               string         `json:"host_id"`
	ListingID            string         `json:"listing_id"`
	Terms                proposal.Terms `json:"terms"`
	HasRentalApplication bool           `json:"has_rental_application"`
}

// UseCase runs every proposal mutation: load the persisted row, resolve the
// caller's role, apply the engine and commit the row with its sync items.
type UseCase struct {
	repo     proposal.Repository
	engine   *proposal.Engine
	notifier outbox.Notifier
	logger   *zap.Logger
}

func NewUseCase(repo proposal.Repository, node *snowflake.Node, notifier outbox.Notifier, logger *zap.Logger) *UseCase {
	return newUseCase(repo, proposal.NewEngine(node), notifier, logger)
}

func newUseCase(repo proposal.Repository, engine *proposal.Engine, notifier outbox.Notifier, logger *zap.Logger) *UseCase {
	return &UseCase{
		repo:     repo,
		engine:   engine,
		notifier: notifier,
		logger:   logger.Named("negotiation"),
	}
}

// Create submits a new proposal. Guests create for themselves; agents create
// on a guest's behalf. Hosts cannot create.
func (uc *UseCase) Create(ctx context.Context, principal proposal.Principal, in CreateInput) (*TransitionOutcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "negotiation.create")
	defer span.End()

	role := creatorRole(principal, in)
	res, err := uc.engine.Create(proposal.CreateRequest{
		GuestID:              in.GuestID,
		HostID:               in.HostID,
		ListingID:            in.ListingID,
		Terms:                in.Terms,
		HasRentalApplication: in.HasRentalApplication,
	}, role)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	cid := correlation.NewID()
	if err := uc.repo.CommitCreate(ctx, res, cid); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("commit new proposal: %w", err)
	}
	uc.notifier.Notify(ctx)

	uc.logger.Info("proposal_created",
		zap.String("proposal_id", res.Proposal.ID),
		zap.String("status", string(res.Proposal.Status)),
		zap.String("role", string(role)),
		zap.String("correlation_id", cid),
		zap.String("request_correlation_id", correlation.FromContext(ctx)),
	)
	return uc.outcome(res, nil, cid)
}

func creatorRole(principal proposal.Principal, in CreateInput) proposal.Role {
	switch {
	case principal.UserID != "" && principal.UserID == in.GuestID:
		return proposal.RoleGuest
	case principal.UserID != "" && principal.UserID == in.HostID:
		return proposal.RoleHost
	case principal.Service:
		return proposal.RoleAgent
	}
	return proposal.RoleUnauthorized
}

// Transition applies action for principal. A positive expectedVersion must
// match the persisted version; the commit itself is guarded as well. Stale
// callers get ErrConcurrentModification and are never retried here.
func (uc *UseCase) Transition(ctx context.Context, principal proposal.Principal, proposalID string, action proposal.Action, payload proposal.Payload, expectedVersion int64) (*TransitionOutcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "negotiation.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("proposal.id", proposalID),
		attribute.String("proposal.action", string(action)),
	)

	p, err := uc.repo.FindByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	role := proposal.ResolveRole(p, principal)
	if role == proposal.RoleUnauthorized {
		return nil, fmt.Errorf("%w: caller is not a party to proposal %s", proposal.ErrUnauthorized, proposalID)
	}
	if expectedVersion > 0 && expectedVersion != p.Version {
		return nil, fmt.Errorf("%w: proposal %s is at version %d, not %d", proposal.ErrConcurrentModification, proposalID, p.Version, expectedVersion)
	}

	res, err := uc.engine.Apply(p, action, role, payload)
	if err != nil {
		uc.logRejected(p, action, role, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	cid := correlation.NewID()
	if err := uc.repo.CommitTransition(ctx, res, cid); err != nil {
		if !errors.Is(err, proposal.ErrConcurrentModification) {
			span.RecordError(err)
		}
		return nil, err
	}
	uc.notifier.Notify(ctx)

	uc.logger.Info("proposal_transitioned",
		zap.String("proposal_id", proposalID),
		zap.String("action", string(action)),
		zap.String("role", string(role)),
		zap.String("from", string(res.Previous.Status)),
		zap.String("to", string(res.Proposal.Status)),
		zap.Int64("version", res.Proposal.Version),
		zap.String("correlation_id", cid),
		zap.String("trace_id", correlation.TraceID(ctx)),
	)

	meeting, err := uc.repo.FindMeeting(ctx, proposalID)
	if err != nil {
		uc.logger.Warn("meeting_lookup_failed", zap.Error(err), zap.String("proposal_id", proposalID))
		meeting = nil
	}
	return uc.outcome(res, meeting, cid)
}

func (uc *UseCase) logRejected(p *proposal.Proposal, action proposal.Action, role proposal.Role, err error) {
	fields := []zap.Field{
		zap.Error(err),
		zap.String("proposal_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.String("action", string(action)),
		zap.String("role", string(role)),
	}
	if errors.Is(err, proposal.ErrUnknownStatus) {
		// Data outside the registry needs a human, not a retry.
		uc.logger.Error("proposal_status_unknown", fields...)
		return
	}
	uc.logger.Debug("transition_rejected", fields...)
}

// Get returns the proposal with the caller's computed actions. Owners can
// still read soft-deleted proposals.
func (uc *UseCase) Get(ctx context.Context, principal proposal.Principal, proposalID string) (*ProposalView, error) {
	p, err := uc.repo.FindByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	role := proposal.ResolveRole(p, principal)
	if role == proposal.RoleUnauthorized {
		return nil, fmt.Errorf("%w: caller is not a party to proposal %s", proposal.ErrUnauthorized, proposalID)
	}
	if p.Deleted && role == proposal.RoleAgent {
		return nil, fmt.Errorf("%w: proposal %s", proposal.ErrNotFound, proposalID)
	}

	meeting, err := uc.repo.FindMeeting(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return uc.view(p, role, meeting)
}

// ListMine returns the caller's non-deleted proposals, most recent first.
func (uc *UseCase) ListMine(ctx context.Context, principal proposal.Principal, limit int) ([]*ProposalView, error) {
	if principal.UserID == "" {
		return nil, proposal.ErrUnauthorized
	}
	items, err := uc.repo.ListByParty(ctx, principal.UserID, limit)
	if err != nil {
		return nil, err
	}

	views := make([]*ProposalView, 0, len(items))
	for _, p := range items {
		meeting, err := uc.repo.FindMeeting(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		v, err := uc.view(p, proposal.ResolveRole(p, principal), meeting)
		if err != nil {
			uc.logger.Error("proposal_status_unknown", zap.Error(err), zap.String("proposal_id", p.ID))
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (uc *UseCase) view(p *proposal.Proposal, role proposal.Role, meeting *proposal.VirtualMeeting) (*ProposalView, error) {
	flags := p.Flags()
	flags.Meeting = meeting.Flags()
	actions, err := proposal.ActionsFor(p.Status, role, flags)
	if err != nil {
		return nil, err
	}
	return &ProposalView{Proposal: p, Role: role, Actions: actions, Meeting: meeting}, nil
}

func (uc *UseCase) outcome(res *proposal.Result, meeting *proposal.VirtualMeeting, cid string) (*TransitionOutcome, error) {
	v, err := uc.view(res.Proposal, res.Role, meeting)
	if err != nil {
		return nil, err
	}
	return &TransitionOutcome{
		ProposalView:  *v,
		CorrelationID: cid,
		Changed:       res.Diff.Fields(),
		StatusChanged: res.StatusChanged(),
	}, nil
}

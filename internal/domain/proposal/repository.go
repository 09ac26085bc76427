package proposal

import "context"

// Repository persists proposals and their sync intents. Every commit writes
// the row and its intents in one transaction.
type Repository interface {
	// FindByID returns the persisted proposal, including soft-deleted rows so
	// owners can audit them. Missing rows yield ErrNotFound.
	FindByID(ctx context.Context, id string) (*Proposal, error)

	// ListByParty returns non-deleted proposals where userID is guest or host.
	ListByParty(ctx context.Context, userID string, limit int) ([]*Proposal, error)

	// CommitCreate inserts a new proposal with its sync intents.
	CommitCreate(ctx context.Context, res *Result, correlationID string) error

	// CommitTransition writes res.Proposal only if the stored version still
	// equals res.Previous.Version; otherwise ErrConcurrentModification.
	CommitTransition(ctx context.Context, res *Result, correlationID string) error

	// FindMeeting returns the proposal's meeting or nil when none exists.
	FindMeeting(ctx context.Context, proposalID string) (*VirtualMeeting, error)

	// CommitMeeting writes a meeting change guarded by its version.
	CommitMeeting(ctx context.Context, res *MeetingResult, correlationID string) error
}

package proposal

import (
	"fmt"
	"time"
)

// Operation is the kind of external write a sync intent describes.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Mirrored table names in the legacy system.
const (
	TableProposal       = "proposal"
	TableStatusLog      = "proposal_status_log"
	TableVirtualMeeting = "virtual_meeting"
)

// SyncIntent is one external write implied by a committed change. Intents of
// one change are delivered in ascending Sequence order.
type SyncIntent struct {
	Sequence       int
	TargetTable    string
	TargetRecordID string
	Operation      Operation
	Payload        map[string]any
}

// StatusLogID is the deterministic identifier of the status log record
// written for a proposal reaching version.
func StatusLogID(proposalID string, version int64) string {
	return fmt.Sprintf("%s-v%d", proposalID, version)
}

func proposalIntents(prev, next *Proposal, action Action, role Role, diff Diff, at time.Time) []SyncIntent {
	op := OperationUpdate
	if prev == nil {
		op = OperationInsert
	}
	payload := make(map[string]any, len(diff))
	for k, v := range diff {
		payload[k] = v
	}

	intents := []SyncIntent{{
		Sequence:       1,
		TargetTable:    TableProposal,
		TargetRecordID: next.ID,
		Operation:      op,
		Payload:        payload,
	}}

	var from any
	if prev != nil {
		if prev.Status == next.Status {
			return intents
		}
		from = string(prev.Status)
	}

	intents = append(intents, SyncIntent{
		Sequence:       2,
		TargetTable:    TableStatusLog,
		TargetRecordID: StatusLogID(next.ID, next.Version),
		Operation:      OperationInsert,
		Payload: map[string]any{
			"proposal_id": next.ID,
			"from_status": from,
			"to_status":   string(next.Status),
			"action":      string(action),
			"actor_role":  string(role),
			"changed_at":  at.UTC().Format(time.RFC3339Nano),
		},
	})
	return intents
}

package outbox

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusInFlight        Status = "in_flight"
	StatusDelivered       Status = "delivered"
	StatusFailedPermanent Status = "failed_permanent"
)

// Item is one external write waiting to be mirrored to the legacy system.
// Items sharing a CorrelationID are delivered in ascending Sequence order.
type Item struct {
	ID             int64          `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	CorrelationID  string         `gorm:"type:varchar(26);not null;uniqueIndex:idx_sync_items_group,priority:1" json:"correlation_id"`
	Sequence       int            `gorm:"not null;uniqueIndex:idx_sync_items_group,priority:2" json:"sequence"`
	ProposalID     string         `gorm:"type:varchar(64);not null;index" json:"proposal_id"`
	TargetTable    string         `gorm:"type:varchar(100);not null" json:"target_table"`
	TargetRecordID string         `gorm:"type:varchar(100);not null" json:"target_record_id"`
	Operation      string         `gorm:"type:varchar(10);not null" json:"operation"`
	Payload        datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Status         Status         `gorm:"type:varchar(20);not null;index" json:"status"`
	AttemptCount   int            `gorm:"not null;default:0" json:"attempt_count"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	LeaseOwner     string         `gorm:"type:varchar(64)" json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
	LastError      string         `gorm:"type:text" json:"last_error,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	ResolvedBy     string         `gorm:"type:varchar(255)" json:"resolved_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (Item) TableName() string {
	return "sync_queue_items"
}

// IdempotencyKey identifies this write to the legacy system across retries.
func (i Item) IdempotencyKey() string {
	return i.CorrelationID + ":" + strconv.Itoa(i.Sequence)
}

package model

import "time"

const (
	OutboxPending = 0
	OutboxSent    = 1
	OutboxFailed  = 2
)

// 事件类型
const (
	EventCheckinChecked      = "checkin.checked"
	EventCheckinMissed       = "checkin.missed"
	EventCheckinCancelled    = "checkin.cancelled"
	EventCommunityRuleOn     = "community_rule.enabled"
	EventCommunityRuleOff    = "community_rule.disabled"
	EventSupervisionInvited  = "supervision.invited"
	EventSupervisionAccepted = "supervision.accepted"
	EventMembershipChanged   = "membership.changed"
)

// CareOutbox 与业务写在同一事务里的事件表，由 relayer 投递
type CareOutbox struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	EventType   string    `gorm:"size:32;not null" json:"event_type"`
	AggregateID uint64    `gorm:"not null" json:"aggregate_id"`
	UserID      uint64    `gorm:"not null;default:0" json:"user_id"`
	Payload     string    `gorm:"type:text;not null" json:"payload"`
	Status      int8      `gorm:"not null;default:0;index" json:"status"` // 0=pending,1=sent,2=failed
	Retry       int       `gorm:"not null;default:0" json:"retry"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (CareOutbox) TableName() string { return "care_outbox" }

// All 迁移用的全部模型
func All() []any {
	return []any{
		&User{}, &Community{}, &CommunityStaff{},
		&Rule{}, &CommunityRule{}, &UserCommunityRule{},
		&CheckinRecord{}, &SupervisionRelation{},
		&HelpEvent{}, &HelpSupport{}, &CareOutbox{},
	}
}

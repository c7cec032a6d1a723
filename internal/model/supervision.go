package model

import (
	"time"

	"Care_Community/internal/errs"
)

type RelationStatus string

const (
	RelationPending  RelationStatus = "pending"
	RelationAccepted RelationStatus = "accepted"
	RelationRejected RelationStatus = "rejected"
	RelationRevoked  RelationStatus = "revoked"
)

func (s RelationStatus) Accept() (RelationStatus, error) {
	switch s {
	case RelationPending:
		return RelationAccepted, nil
	case RelationAccepted:
		return s, nil
	}
	return s, errs.Wrapf(errs.ErrSlotClosed, "relation is %s", s)
}

func (s RelationStatus) Reject() (RelationStatus, error) {
	switch s {
	case RelationPending:
		return RelationRejected, nil
	case RelationRejected:
		return s, nil
	}
	return s, errs.Wrapf(errs.ErrSlotClosed, "relation is %s", s)
}

// Revoke 被监督人收回，pending 与 accepted 都可以
func (s RelationStatus) Revoke() (RelationStatus, error) {
	switch s {
	case RelationPending, RelationAccepted:
		return RelationRevoked, nil
	case RelationRevoked:
		return s, nil
	}
	return s, errs.Wrapf(errs.ErrSlotClosed, "relation is %s", s)
}

// SupervisionRelation 监督关系。RuleID 为空表示覆盖被监督人的全部个人规则
type SupervisionRelation struct {
	ID               uint64         `gorm:"primaryKey" json:"id"`
	TargetUserID     uint64         `gorm:"not null;index" json:"target_user_id"`
	RuleID           *uint64        `gorm:"index" json:"rule_id"`
	SupervisorUserID *uint64        `gorm:"index" json:"supervisor_user_id"`
	Status           RelationStatus `gorm:"size:16;not null;default:'pending'" json:"status"`
	// 同一条链接下的多条关系共享一个 token
	InviteToken     *string    `gorm:"size:64;index" json:"invite_token"`
	InviteExpiresAt *time.Time `json:"invite_expires_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (SupervisionRelation) TableName() string { return "supervision_relations" }

func (r *SupervisionRelation) SupervisedBy(userID uint64) bool {
	return r.SupervisorUserID != nil && *r.SupervisorUserID == userID
}

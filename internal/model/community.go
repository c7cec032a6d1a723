package model

import "time"

// 保留社区：新用户默认加入 DefaultCommunityID，被移出的用户停放到 SandboxCommunityID
const (
	DefaultCommunityID uint64 = 1
	SandboxCommunityID uint64 = 2
)

type CommunityStatus string

const (
	CommunityActive   CommunityStatus = "active"
	CommunityDisabled CommunityStatus = "disabled"
)

type Community struct {
	ID          uint64          `gorm:"primaryKey" json:"id"`
	Name        string          `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Status      CommunityStatus `gorm:"size:16;not null;default:'active'" json:"status"`
	CreatorID   uint64          `gorm:"not null;index" json:"creator_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func IsReservedCommunity(id uint64) bool {
	return id == DefaultCommunityID || id == SandboxCommunityID
}

const (
	StaffRoleStaff   = 1
	StaffRoleManager = 2
)

// CommunityStaff 社区工作人员，role: 1=staff 2=manager
type CommunityStaff struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	CommunityID uint64    `gorm:"not null;index;uniqueIndex:uk_community_staff" json:"community_id"`
	UserID      uint64    `gorm:"not null;index;uniqueIndex:uk_community_staff" json:"user_id"`
	Role        int       `gorm:"not null;default:1" json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (CommunityStaff) TableName() string { return "community_staff" }

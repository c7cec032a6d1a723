package model

import "time"

const (
	RoleUser       = 0
	RoleSuperAdmin = 1
)

type User struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Password    string    `gorm:"size:255;not null" json:"-"`
	Role        int       `gorm:"default:0" json:"role"`
	Email       string    `gorm:"uniqueIndex;size:64;not null" json:"email"`
	Nickname    string    `gorm:"size:64" json:"nickname"`
	CommunityID *uint64   `gorm:"index" json:"community_id"`                    // 同一时间至多属于一个社区
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (u *User) IsSuperAdmin() bool { return u.Role == RoleSuperAdmin }

// InCommunity 用户当前是否属于 communityID
func (u *User) InCommunity(communityID uint64) bool {
	return u.CommunityID != nil && *u.CommunityID == communityID
}

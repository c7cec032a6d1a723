package model

import "time"

const (
	HelpOpen     = 0
	HelpDeleted  = 1
	HelpResolved = 2
)

// HelpEvent 社区求助
type HelpEvent struct {
	ID           uint64    `gorm:"primaryKey" json:"id"`
	CommunityID  uint64    `gorm:"not null;index:idx_help_comm_time,priority:1" json:"community_id"`
	AuthorID     uint64    `gorm:"not null;index" json:"author_id"`
	Title        string    `gorm:"size:200;not null" json:"title"`
	Content      string    `gorm:"type:text" json:"content"`
	Status       int       `gorm:"not null;default:0" json:"status"`                                 // 0=open 1=deleted 2=resolved
	SupportCount int64     `gorm:"not null;default:0" json:"support_count"`
	CreatedAt    time.Time `gorm:"index:idx_help_comm_time,priority:2,sort:desc" json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (HelpEvent) TableName() string { return "help_events" }

// HelpSupport 邻居对求助的支持，(user_id, help_id) 唯一
type HelpSupport struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"not null;uniqueIndex:uk_help_support,priority:1" json:"user_id"`
	HelpID    uint64    `gorm:"not null;uniqueIndex:uk_help_support,priority:2;index" json:"help_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (HelpSupport) TableName() string { return "help_supports" }

package model

import (
	"time"

	"Care_Community/internal/errs"
	"Care_Community/internal/schedule"
)

// RuleSchedule 个人规则与社区规则共用的重复方式字段
type RuleSchedule struct {
	FrequencyType   string         `gorm:"size:32;not null;default:'everyday'" json:"frequency_type"`
	TimeSlotType    string         `gorm:"size:16;not null;default:'evening'" json:"time_slot_type"`
	CustomTime      string         `gorm:"size:8" json:"custom_time"`
	WeekDaysBitmask int            `gorm:"not null;default:0" json:"week_days_bitmask"`
	CustomStartDate *schedule.Date `gorm:"type:date" json:"custom_start_date"`
	CustomEndDate   *schedule.Date `gorm:"type:date" json:"custom_end_date"`
}

func (s RuleSchedule) Recurrence() schedule.Recurrence {
	return schedule.Recurrence{
		Frequency: schedule.FrequencyType(s.FrequencyType),
		WeekDays:  schedule.WeekDays(s.WeekDaysBitmask & int(schedule.AllWeekDays)),
		StartDate: s.CustomStartDate,
		EndDate:   s.CustomEndDate,
		Time:      schedule.ResolveTimeSpec(s.TimeSlotType, s.CustomTime),
	}
}

// Validate 写入前校验重复方式
func (s RuleSchedule) Validate() error {
	if _, err := schedule.ParseWeekDays(s.WeekDaysBitmask); err != nil {
		return err
	}
	switch schedule.TimeSlotType(s.TimeSlotType) {
	case schedule.SlotMorning, schedule.SlotAfternoon, schedule.SlotEvening, schedule.SlotAllDay:
	case schedule.SlotCustom:
		if _, err := schedule.ParseTimeOfDay(s.CustomTime); err != nil {
			return err
		}
	default:
		return errs.Wrapf(errs.ErrInvalidArgument, "unknown time_slot_type %q", s.TimeSlotType)
	}
	return schedule.Recurrence{
		Frequency: schedule.FrequencyType(s.FrequencyType),
		WeekDays:  schedule.WeekDays(s.WeekDaysBitmask),
		StartDate: s.CustomStartDate,
		EndDate:   s.CustomEndDate,
	}.Validate()
}

type RuleStatus string

const (
	RuleActive  RuleStatus = "active"
	RuleDeleted RuleStatus = "deleted"
)

// Delete deleted 是终态，再删视为不存在
func (s RuleStatus) Delete() (RuleStatus, error) {
	if s == RuleDeleted {
		return s, errs.Wrapf(errs.ErrNotFound, "rule already deleted")
	}
	return RuleDeleted, nil
}

// Rule 个人打卡规则
type Rule struct {
	ID          uint64     `gorm:"primaryKey" json:"id"`
	UserID      uint64     `gorm:"not null;index:idx_rule_owner_status,priority:1" json:"user_id"`
	CommunityID uint64     `gorm:"not null;default:0" json:"community_id"`                                                 // 创建时所在社区
	RuleName    string     `gorm:"size:64;not null" json:"rule_name"`
	Icon        string     `gorm:"size:255" json:"icon"`
	Status      RuleStatus `gorm:"size:16;not null;default:'active';index:idx_rule_owner_status,priority:2" json:"status"`
	RuleSchedule
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Rule) TableName() string { return "checkin_rules" }

type CommunityRuleStatus string

const (
	CommunityRuleDraft   CommunityRuleStatus = "draft"
	CommunityRuleEnabled CommunityRuleStatus = "enabled"
	CommunityRuleDeleted CommunityRuleStatus = "deleted"
)

// Editable 只有草稿可以修改
func (s CommunityRuleStatus) Editable() error {
	switch s {
	case CommunityRuleDraft:
		return nil
	case CommunityRuleDeleted:
		return errs.Wrapf(errs.ErrNotFound, "community rule deleted")
	}
	return errs.Wrapf(errs.ErrRuleLocked, "community rule is %s", s)
}

func (s CommunityRuleStatus) Enable() (CommunityRuleStatus, error) {
	if err := s.Editable(); err != nil {
		return s, err
	}
	return CommunityRuleEnabled, nil
}

func (s CommunityRuleStatus) Disable() (CommunityRuleStatus, error) {
	switch s {
	case CommunityRuleEnabled:
		return CommunityRuleDraft, nil
	case CommunityRuleDeleted:
		return s, errs.Wrapf(errs.ErrNotFound, "community rule deleted")
	}
	return s, errs.Wrapf(errs.ErrRuleLocked, "community rule is %s", s)
}

func (s CommunityRuleStatus) Delete() (CommunityRuleStatus, error) {
	if err := s.Editable(); err != nil {
		return s, err
	}
	return CommunityRuleDeleted, nil
}

// CommunityRule 社区打卡模板，启用后下发到每个成员
type CommunityRule struct {
	ID          uint64              `gorm:"primaryKey" json:"id"`
	CommunityID uint64              `gorm:"not null;index:idx_crule_comm_status,priority:1" json:"community_id"`
	RuleName    string              `gorm:"size:64;not null" json:"rule_name"`
	Icon        string              `gorm:"size:255" json:"icon"`
	Description string              `gorm:"type:text" json:"description"`
	Status      CommunityRuleStatus `gorm:"size:16;not null;default:'draft';index:idx_crule_comm_status,priority:2" json:"status"`
	RuleSchedule
	// 成员过多时异步补齐下发
	FanoutPending bool       `gorm:"not null;default:false;index" json:"fanout_pending"`
	CreatedBy     uint64     `json:"created_by"`
	EnabledBy     *uint64    `json:"enabled_by"`
	EnabledAt     *time.Time `json:"enabled_at"`
	DisabledBy    *uint64    `json:"disabled_by"`
	DisabledAt    *time.Time `json:"disabled_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (CommunityRule) TableName() string { return "community_checkin_rules" }

// UserCommunityRule 用户与社区规则的激活关系
type UserCommunityRule struct {
	ID              uint64    `gorm:"primaryKey" json:"id"`
	UserID          uint64    `gorm:"not null;uniqueIndex:uk_user_crule,priority:1" json:"user_id"`
	CommunityRuleID uint64    `gorm:"not null;uniqueIndex:uk_user_crule,priority:2;index" json:"community_rule_id"`
	IsActive        bool      `gorm:"not null" json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (UserCommunityRule) TableName() string { return "user_community_rules" }

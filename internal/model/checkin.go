package model

import (
	"time"

	"Care_Community/internal/errs"
)

type RuleSource string

const (
	SourcePersonal  RuleSource = "personal"
	SourceCommunity RuleSource = "community"
)

func (s RuleSource) Valid() bool {
	return s == SourcePersonal || s == SourceCommunity
}

type RecordStatus string

const (
	RecordUnchecked RecordStatus = "unchecked"
	RecordChecked   RecordStatus = "checked"
	RecordMissed    RecordStatus = "missed"
	RecordCancelled RecordStatus = "cancelled"
)

// Check 打卡。已打卡幂等返回 changed=false；missed/cancelled 不可再打
func (s RecordStatus) Check() (next RecordStatus, changed bool, err error) {
	switch s {
	case RecordUnchecked:
		return RecordChecked, true, nil
	case RecordChecked:
		return s, false, nil
	}
	return s, false, errs.Wrapf(errs.ErrSlotClosed, "record is %s", s)
}

// Miss 漏打。已打卡返回 already_checked
func (s RecordStatus) Miss() (next RecordStatus, changed bool, err error) {
	switch s {
	case RecordUnchecked:
		return RecordMissed, true, nil
	case RecordMissed:
		return s, false, nil
	case RecordChecked:
		return s, false, errs.Wrapf(errs.ErrAlreadyChecked, "record already checked")
	}
	return s, false, errs.Wrapf(errs.ErrSlotClosed, "record is %s", s)
}

// Cancel 撤销打卡，missed 不可撤销
func (s RecordStatus) Cancel() (next RecordStatus, changed bool, err error) {
	switch s {
	case RecordChecked, RecordUnchecked:
		return RecordCancelled, true, nil
	case RecordCancelled:
		return s, false, nil
	}
	return s, false, errs.Wrapf(errs.ErrSlotClosed, "record is %s", s)
}

// Live 非 cancelled 记录取 1，cancelled 取 NULL，
// 唯一索引因此只约束每个时段的未撤销记录
func Live(s RecordStatus) *int8 {
	if s == RecordCancelled {
		return nil
	}
	one := int8(1)
	return &one
}

// CheckinRecord 打卡记录，一条记录对应一个计划时段
type CheckinRecord struct {
	ID          uint64       `gorm:"primaryKey" json:"id"`
	OwnerID     uint64       `gorm:"not null;uniqueIndex:uk_checkin_slot,priority:1;index:idx_owner_key,priority:1" json:"owner_id"`
	RuleSource  RuleSource   `gorm:"size:16;not null;uniqueIndex:uk_checkin_slot,priority:2" json:"rule_source"`
	RuleID      uint64       `gorm:"not null;uniqueIndex:uk_checkin_slot,priority:3" json:"rule_id"`
	PlannedKey  string       `gorm:"size:19;not null;uniqueIndex:uk_checkin_slot,priority:4;index:idx_owner_key,priority:2;index:idx_status_key,priority:2" json:"planned_key"` // 本地时间 2006-01-02T15:04:05
	Live        *int8        `gorm:"uniqueIndex:uk_checkin_slot,priority:5" json:"-"`
	PlannedTime time.Time    `gorm:"not null" json:"planned_time"`
	CheckinTime *time.Time   `json:"checkin_time"`
	Status      RecordStatus `gorm:"size:16;not null;index:idx_status_key,priority:1" json:"status"`
	RuleName    string       `gorm:"size:64" json:"rule_name"`                                                                                                                  // 冗余规则名，历史查询不再回表
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (CheckinRecord) TableName() string { return "checkin_records" }

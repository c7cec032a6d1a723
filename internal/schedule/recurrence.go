package schedule

import (
	"time"

	"Care_Community/internal/errs"
)

type FrequencyType string

const (
	FrequencyEveryday        FrequencyType = "everyday"
	FrequencyWeeklySelected  FrequencyType = "weekly_selected"
	FrequencyCustomDateRange FrequencyType = "custom_date_range"
)

func (f FrequencyType) Valid() bool {
	switch f {
	case FrequencyEveryday, FrequencyWeeklySelected, FrequencyCustomDateRange:
		return true
	}
	return false
}

// Recurrence 规则的重复方式与计划时段，个人规则和社区规则共用
type Recurrence struct {
	Frequency FrequencyType
	WeekDays  WeekDays
	StartDate *Date
	EndDate   *Date
	Time      TimeSpec
}

// ActiveOn 规则在 d 这一天是否需要打卡
func (r Recurrence) ActiveOn(d Date) bool {
	switch r.Frequency {
	case FrequencyWeeklySelected:
		return r.WeekDays.Has(d.Weekday())
	case FrequencyCustomDateRange:
		if r.StartDate != nil && d.Before(*r.StartDate) {
			return false
		}
		if r.EndDate != nil && d.After(*r.EndDate) {
			return false
		}
		return true
	default:
		// everyday 以及历史脏数据
		return true
	}
}

// PlannedAt d 这一天的计划打卡时间
func (r Recurrence) PlannedAt(d Date, loc *time.Location) time.Time {
	t := r.Time.TimeOfDay()
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, t.Second, 0, loc)
}

// Validate 写入前校验，读路径不调用
func (r Recurrence) Validate() error {
	if !r.Frequency.Valid() {
		return errs.Wrapf(errs.ErrInvalidArgument, "unknown frequency_type %q", r.Frequency)
	}
	if r.WeekDays > AllWeekDays {
		return errs.Wrapf(errs.ErrInvalidArgument, "week_days_bitmask %d out of range", r.WeekDays)
	}
	switch r.Frequency {
	case FrequencyWeeklySelected:
		if r.WeekDays == 0 {
			return errs.Wrapf(errs.ErrInvalidArgument, "weekly_selected needs at least one weekday")
		}
	case FrequencyCustomDateRange:
		if r.StartDate == nil || r.EndDate == nil || r.StartDate.IsZero() || r.EndDate.IsZero() {
			return errs.Wrapf(errs.ErrInvalidArgument, "custom_date_range needs start and end date")
		}
		if r.EndDate.Before(*r.StartDate) {
			return errs.Wrapf(errs.ErrInvalidArgument, "custom_end_date before custom_start_date")
		}
	}
	return nil
}

const slotKeyLayout = "2006-01-02T15:04:05"

// SlotKey 计划时间的本地 ISO 表示，记录唯一键的一部分
func SlotKey(planned time.Time, loc *time.Location) string {
	return planned.In(loc).Format(slotKeyLayout)
}

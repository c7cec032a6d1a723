package schedule

import (
	"time"

	"Care_Community/internal/errs"
)

// WeekDays 7 位掩码，周一为 bit0，周日为 bit6
type WeekDays uint8

const AllWeekDays WeekDays = 0x7F

// Workdays 周一到周五
const Workdays WeekDays = 0x1F

func weekdayBit(wd time.Weekday) uint {
	return uint((int(wd) + 6) % 7)
}

func WeekDaysOf(days ...time.Weekday) WeekDays {
	var w WeekDays
	for _, d := range days {
		w |= 1 << weekdayBit(d)
	}
	return w
}

// ParseWeekDays 校验存储层的整数掩码
func ParseWeekDays(v int) (WeekDays, error) {
	if v < 0 || v > int(AllWeekDays) {
		return 0, errs.Wrapf(errs.ErrInvalidArgument, "week_days_bitmask %d out of range", v)
	}
	return WeekDays(v), nil
}

func (w WeekDays) Has(wd time.Weekday) bool {
	return w&(1<<weekdayBit(wd)) != 0
}

// Days 按周一到周日的顺序返回选中的日子
func (w WeekDays) Days() []time.Weekday {
	var out []time.Weekday
	for i := 0; i < 7; i++ {
		wd := time.Weekday((i + 1) % 7)
		if w.Has(wd) {
			out = append(out, wd)
		}
	}
	return out
}

func (w WeekDays) Int() int { return int(w) }

package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"Care_Community/internal/errs"
)

type TimeSlotType string

const (
	SlotMorning   TimeSlotType = "morning"
	SlotAfternoon TimeSlotType = "afternoon"
	SlotEvening   TimeSlotType = "evening"
	SlotCustom    TimeSlotType = "custom"
	SlotAllDay    TimeSlotType = "all_day"
)

// TimeOfDay 本地时刻
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay 接受 HH:MM 或 HH:MM:SS
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, errs.Wrapf(errs.ErrInvalidArgument, "bad time %q", s)
	}
	vals := make([]int, 3)
	limits := []int{23, 59, 59}
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return TimeOfDay{}, errs.Wrapf(errs.ErrInvalidArgument, "bad time %q", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return TimeOfDay{}, errs.Wrapf(errs.ErrInvalidArgument, "bad time %q", s)
		}
		vals[i] = n
	}
	return TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// TimeSpec 打卡时段：Morning | Afternoon | Evening | AllDay | Custom(时刻)
type TimeSpec struct {
	slot   TimeSlotType
	custom TimeOfDay
}

var (
	Morning   = TimeSpec{slot: SlotMorning}
	Afternoon = TimeSpec{slot: SlotAfternoon}
	Evening   = TimeSpec{slot: SlotEvening}
	AllDay    = TimeSpec{slot: SlotAllDay}
)

func Custom(t TimeOfDay) TimeSpec {
	return TimeSpec{slot: SlotCustom, custom: t}
}

// ResolveTimeSpec 把存储的时段类型和自定义时间解析成 TimeSpec。
// 无法识别的类型或解析失败的自定义时间一律回落到 Evening。
func ResolveTimeSpec(slot string, customTime string) TimeSpec {
	switch TimeSlotType(strings.TrimSpace(slot)) {
	case SlotMorning:
		return Morning
	case SlotAfternoon:
		return Afternoon
	case SlotEvening:
		return Evening
	case SlotAllDay:
		return AllDay
	case SlotCustom:
		if t, err := ParseTimeOfDay(customTime); err == nil {
			return Custom(t)
		}
	}
	return Evening
}

func (s TimeSpec) Slot() TimeSlotType {
	if s.slot == "" {
		return SlotEvening
	}
	return s.slot
}

// TimeOfDay 时段对应的计划时刻，all_day 按 20:00 兜底
func (s TimeSpec) TimeOfDay() TimeOfDay {
	switch s.Slot() {
	case SlotMorning:
		return TimeOfDay{Hour: 9}
	case SlotAfternoon:
		return TimeOfDay{Hour: 14}
	case SlotCustom:
		return s.custom
	default:
		return TimeOfDay{Hour: 20}
	}
}

// CustomTime 落库用的自定义时间，非 custom 时为空
func (s TimeSpec) CustomTime() string {
	if s.Slot() != SlotCustom {
		return ""
	}
	return s.custom.String()
}

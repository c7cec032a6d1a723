package schedule

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"Care_Community/internal/errs"
)

const dateLayout = "2006-01-02"

// Date 服务本地时区下的日历日，不带时分秒
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf 取 t 所在的日历日（按 t 自身的时区）
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, errs.Wrapf(errs.ErrInvalidArgument, "bad date %q", s)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// In 返回该日在 loc 中的零点
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

func (d Date) Compare(o Date) int {
	a, b := d.In(time.UTC), o.In(time.UTC)
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }

func (Date) GormDataType() string { return "date" }

// Value 以 YYYY-MM-DD 落库，避免各驱动的时区换算
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *Date) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = DateOf(x)
	case string:
		return d.parseInto(x)
	case []byte:
		return d.parseInto(string(x))
	default:
		return fmt.Errorf("schedule: cannot scan %T into Date", v)
	}
	return nil
}

func (d *Date) parseInto(s string) error {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	p, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = p
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errs.Wrapf(errs.ErrInvalidArgument, "date must be a string")
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	return d.parseInto(s)
}

package schedule

import (
	"sync"
	"time"
)

// Clock 服务时钟，测试中替换为 FixedClock
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Today 时钟所在时区的今天
func Today(c Clock) Date {
	return DateOf(c.Now().In(c.Location()))
}

type SystemClock struct {
	loc *time.Location
}

func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.Local
	}
	return &SystemClock{loc: loc}
}

func (c *SystemClock) Now() time.Time            { return time.Now().In(c.loc) }
func (c *SystemClock) Location() *time.Location { return c.loc }

// FixedClock 可手动拨动的时钟
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now, loc: now.Location()}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Location() *time.Location { return c.loc }

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.In(c.loc)
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
	"Care_Community/internal/schedule"
)

// Locker 多实例部署时保证同一时刻只有一个 sweeper 在跑
type Locker interface {
	Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, token string) error
	Refresh(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
}

const (
	sweepLockName = "sweeper"
	// 锁的有效期是巡检间隔的倍数，每处理完一批再续期
	sweepLockFactor = 5
)

// sweepLease 持有中的巡检锁
type sweepLease struct {
	locker Locker
	token  string
	ttl    time.Duration
}

// keep 续期，锁已被别人拿走时返回 conflict 终止本轮巡检
func (l *sweepLease) keep(ctx context.Context) error {
	if l == nil {
		return nil
	}
	ok, err := l.locker.Refresh(ctx, sweepLockName, l.token, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Wrapf(errs.ErrConflict, "sweep lock lost")
	}
	return nil
}

type SweepResult struct {
	// Skipped 没拿到锁
	Skipped bool
	Marked  int
}

// Sweeper 把超过宽限期仍未打卡的时段关闭为 missed
type Sweeper struct {
	db       *gorm.DB
	clock    schedule.Clock
	log      *slog.Logger
	grace    time.Duration
	interval time.Duration
	lockTTL  time.Duration
	batch    int
	locker   Locker
	checkins *CheckinService
	plans    *PlanService
}

func NewSweeper(d *Deps, locker Locker, checkins *CheckinService, plans *PlanService) *Sweeper {
	return &Sweeper{
		db:       d.DB,
		clock:    d.Clock,
		log:      d.logger(),
		grace:    d.Care.GraceWindow,
		interval: d.Care.SweepInterval,
		lockTTL:  sweepLockFactor * d.Care.SweepInterval,
		batch:    d.Care.SweepBatch,
		locker:   locker,
		checkins: checkins,
		plans:    plans,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.ErrorContext(ctx, "sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce 一次完整扫描。先处理已落库的 unchecked 记录，
// 再按用户遍历昨天和今天的计划，给没有记录的过期时段补 missed
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var (
		res   SweepResult
		lease *sweepLease
	)
	if s.locker != nil {
		token := uuid.NewString()
		ok, err := s.locker.Acquire(ctx, sweepLockName, token, s.lockTTL)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Skipped = true
			return res, nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), sweepLockName, token); err != nil {
				s.log.WarnContext(ctx, "sweep lock release failed", "err", err)
			}
		}()
		lease = &sweepLease{locker: s.locker, token: token, ttl: s.lockTTL}
	}

	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	now := s.clock.Now()
	n, err := s.sweepRecords(ctx, now, lease)
	res.Marked += n
	if err != nil {
		return res, err
	}
	today := schedule.DateOf(now)
	for _, d := range []schedule.Date{today.AddDays(-1), today} {
		n, err := s.sweepPlans(ctx, now, d, lease)
		res.Marked += n
		if err != nil {
			return res, err
		}
	}
	sweepMarkedTotal.Add(float64(res.Marked))
	if res.Marked > 0 {
		s.log.InfoContext(ctx, "sweep finished", "marked", res.Marked, "took", time.Since(start))
	}
	return res, nil
}

func (s *Sweeper) sweepRecords(ctx context.Context, now time.Time, lease *sweepLease) (int, error) {
	cutoff := schedule.SlotKey(now.Add(-s.grace), s.clock.Location())
	repo := &mysql.CheckinRepository{DB: s.db}
	var (
		last   uint64
		marked int
	)
	for {
		list, err := repo.DueUnchecked(ctx, cutoff, last, s.batch)
		if err != nil {
			return marked, err
		}
		for _, rec := range list {
			key := mysql.SlotKey{OwnerID: rec.OwnerID, Source: rec.RuleSource, RuleID: rec.RuleID, PlannedKey: rec.PlannedKey}
			ok, err := s.mark(ctx, key, rec.PlannedTime, rec.RuleName)
			if err != nil {
				return marked, err
			}
			if ok {
				marked++
			}
		}
		if len(list) < s.batch {
			return marked, nil
		}
		if err := lease.keep(ctx); err != nil {
			return marked, err
		}
		last = list[len(list)-1].ID
	}
}

func (s *Sweeper) sweepPlans(ctx context.Context, now time.Time, d schedule.Date, lease *sweepLease) (int, error) {
	users := &mysql.UserRepository{DB: s.db}
	loc := s.clock.Location()
	var (
		last   uint64
		marked int
	)
	for {
		ids, err := users.IDsAfter(ctx, last, s.batch)
		if err != nil {
			return marked, err
		}
		for _, uid := range ids {
			items, err := s.plans.buildPlan(ctx, uid, d)
			if err != nil {
				return marked, err
			}
			for _, it := range items {
				if it.Status != model.RecordUnchecked || it.PlannedTime.Add(s.grace).After(now) {
					continue
				}
				// 规则生效之前的时段不算漏打
				if it.PlannedTime.Before(it.since) {
					continue
				}
				key := mysql.SlotKey{OwnerID: uid, Source: it.RuleSource, RuleID: it.RuleRef, PlannedKey: schedule.SlotKey(it.PlannedTime, loc)}
				ok, err := s.mark(ctx, key, it.PlannedTime, it.RuleName)
				if err != nil {
					return marked, err
				}
				if ok {
					marked++
				}
			}
		}
		if len(ids) < s.batch {
			return marked, nil
		}
		if err := lease.keep(ctx); err != nil {
			return marked, err
		}
		last = ids[len(ids)-1]
	}
}

// mark 与用户打卡并发时，对方先提交则本次什么也不做
func (s *Sweeper) mark(ctx context.Context, key mysql.SlotKey, planned time.Time, name string) (bool, error) {
	rec, err := s.checkins.MarkMissed(ctx, key, planned, name)
	switch {
	case errors.Is(err, errs.ErrAlreadyChecked), errors.Is(err, errs.ErrSlotClosed), errors.Is(err, errs.ErrConflict):
		s.log.DebugContext(ctx, "sweep skipped slot", "owner", key.OwnerID, "rule", key.RuleID, "key", key.PlannedKey, "err", err)
		return false, nil
	case err != nil:
		return false, err
	}
	return rec.Status == model.RecordMissed, nil
}

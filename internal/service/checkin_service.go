package service

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
	"Care_Community/internal/schedule"
)

// ruleView 打卡时需要的规则信息，个人与社区规则统一成同一形状
type ruleView struct {
	source model.RuleSource
	id     uint64
	name   string
	rec    schedule.Recurrence
}

// CheckinService 打卡、漏打、撤销
type CheckinService struct {
	db         *gorm.DB
	clock      schedule.Clock
	log        *slog.Logger
	activation *ActivationService
}

func NewCheckinService(d *Deps, activation *ActivationService) *CheckinService {
	return &CheckinService{db: d.DB, clock: d.Clock, log: d.logger(), activation: activation}
}

// resolveRule 在事务内确认 actor 可以在这条规则上写记录
func (s *CheckinService) resolveRule(ctx context.Context, tx *gorm.DB, actor uint64, src model.RuleSource, ref uint64) (*ruleView, error) {
	switch src {
	case model.SourcePersonal:
		rule, err := (&mysql.RuleRepository{DB: tx}).FindActive(ctx, ref)
		if err != nil {
			return nil, err
		}
		if rule.UserID != actor {
			return nil, errs.Wrapf(errs.ErrNotAuthorized, "rule %d belongs to another user", ref)
		}
		return &ruleView{source: src, id: rule.ID, name: rule.RuleName, rec: rule.Recurrence()}, nil

	case model.SourceCommunity:
		rule, err := (&mysql.CommunityRuleRepository{DB: tx}).FindByID(ctx, ref)
		if err != nil {
			return nil, err
		}
		if rule.Status != model.CommunityRuleEnabled {
			return nil, errs.Wrapf(errs.ErrRuleNotActive, "community rule %d is %s", ref, rule.Status)
		}
		m, err := s.activation.EnsureMapping(ctx, tx, actor, rule)
		if err != nil {
			return nil, err
		}
		if m == nil || !m.IsActive {
			return nil, errs.Wrapf(errs.ErrNotAuthorized, "community rule %d is not active for user %d", ref, actor)
		}
		return &ruleView{source: src, id: rule.ID, name: rule.RuleName, rec: rule.Recurrence()}, nil
	}
	return nil, errs.Wrapf(errs.ErrInvalidArgument, "unknown rule_source %q", src)
}

func (s *CheckinService) plannedOn(rv *ruleView, date schedule.Date) (time.Time, error) {
	if !rv.rec.ActiveOn(date) {
		return time.Time{}, errs.Wrapf(errs.ErrInvalidArgument, "rule %d has no slot on %s", rv.id, date)
	}
	return rv.rec.PlannedAt(date, s.clock.Location()), nil
}

func (s *CheckinService) slotKey(owner uint64, rv *ruleView, planned time.Time) mysql.SlotKey {
	return mysql.SlotKey{
		OwnerID:    owner,
		Source:     rv.source,
		RuleID:     rv.id,
		PlannedKey: schedule.SlotKey(planned, s.clock.Location()),
	}
}

func outboxFor(rec *model.CheckinRecord, typ string) mysql.Event {
	return mysql.Event{
		Type:        typ,
		AggregateID: rec.ID,
		UserID:      rec.OwnerID,
		Data: map[string]any{
			"rule_source": rec.RuleSource,
			"rule_id":     rec.RuleID,
			"planned_key": rec.PlannedKey,
			"status":      rec.Status,
		},
	}
}

// Perform 打卡。时段由 clientTime 所在的本地日期决定，记录保存客户端时间；
// 同一时段重复打卡返回原记录
func (s *CheckinService) Perform(ctx context.Context, actor uint64, src model.RuleSource, ref uint64, clientTime time.Time) (*model.CheckinRecord, error) {
	if clientTime.IsZero() {
		clientTime = s.clock.Now()
	}
	date := schedule.DateOf(clientTime.In(s.clock.Location()))

	var out *model.CheckinRecord
	err := withRetry(ctx, "checkin.perform", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			rv, err := s.resolveRule(ctx, tx, actor, src, ref)
			if err != nil {
				return err
			}
			planned, err := s.plannedOn(rv, date)
			if err != nil {
				return err
			}
			repo := &mysql.CheckinRepository{DB: tx}
			key := s.slotKey(actor, rv, planned)
			rec, err := repo.FindLiveForUpdate(ctx, key)
			if err != nil {
				return err
			}
			ct := clientTime
			if rec == nil {
				rec = &model.CheckinRecord{
					OwnerID:     actor,
					RuleSource:  rv.source,
					RuleID:      rv.id,
					PlannedKey:  key.PlannedKey,
					PlannedTime: planned,
					CheckinTime: &ct,
					Status:      model.RecordChecked,
					RuleName:    rv.name,
				}
				if err := repo.Insert(ctx, rec); err != nil {
					return err
				}
			} else {
				next, changed, err := rec.Status.Check()
				if err != nil {
					return err
				}
				if !changed {
					out = rec
					checkinTotal.WithLabelValues("perform", "noop").Inc()
					return nil
				}
				rec.CheckinTime = &ct
				if err := s.transition(ctx, repo, rec, next); err != nil {
					return err
				}
			}
			out = rec
			checkinTotal.WithLabelValues("perform", "checked").Inc()
			return (&mysql.OutboxRepository{DB: tx}).Insert(ctx, outboxFor(rec, model.EventCheckinChecked))
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transition 条件更新落空说明行在锁外被改，交给外层重试
func (s *CheckinService) transition(ctx context.Context, repo *mysql.CheckinRepository, rec *model.CheckinRecord, to model.RecordStatus) error {
	ok, err := repo.Transition(ctx, rec, to)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Wrapf(errs.ErrConflict, "record %d changed concurrently", rec.ID)
	}
	return nil
}

// Miss 用户自己标记某天的时段为漏打
func (s *CheckinService) Miss(ctx context.Context, actor uint64, src model.RuleSource, ref uint64, date schedule.Date) (*model.CheckinRecord, error) {
	if date.IsZero() {
		date = schedule.Today(s.clock)
	}
	var out *model.CheckinRecord
	err := withRetry(ctx, "checkin.miss", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			rv, err := s.resolveRule(ctx, tx, actor, src, ref)
			if err != nil {
				return err
			}
			planned, err := s.plannedOn(rv, date)
			if err != nil {
				return err
			}
			out, err = s.markMissed(ctx, tx, s.slotKey(actor, rv, planned), planned, rv.name)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkMissed 后台按时段关闭未打卡的计划，不做规则归属校验
func (s *CheckinService) MarkMissed(ctx context.Context, key mysql.SlotKey, planned time.Time, ruleName string) (*model.CheckinRecord, error) {
	var out *model.CheckinRecord
	err := withRetry(ctx, "checkin.mark_missed", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			out, err = s.markMissed(ctx, tx, key, planned, ruleName)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CheckinService) markMissed(ctx context.Context, tx *gorm.DB, key mysql.SlotKey, planned time.Time, ruleName string) (*model.CheckinRecord, error) {
	repo := &mysql.CheckinRepository{DB: tx}
	rec, err := repo.FindLiveForUpdate(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &model.CheckinRecord{
			OwnerID:     key.OwnerID,
			RuleSource:  key.Source,
			RuleID:      key.RuleID,
			PlannedKey:  key.PlannedKey,
			PlannedTime: planned,
			Status:      model.RecordMissed,
			RuleName:    ruleName,
		}
		if err := repo.Insert(ctx, rec); err != nil {
			return nil, err
		}
	} else {
		next, changed, err := rec.Status.Miss()
		if err != nil {
			return nil, err
		}
		if !changed {
			checkinTotal.WithLabelValues("miss", "noop").Inc()
			return rec, nil
		}
		if err := s.transition(ctx, repo, rec, next); err != nil {
			return nil, err
		}
	}
	checkinTotal.WithLabelValues("miss", "missed").Inc()
	return rec, (&mysql.OutboxRepository{DB: tx}).Insert(ctx, outboxFor(rec, model.EventCheckinMissed))
}

// Cancel 撤销记录。行保留为 cancelled，同一时段之后可以重新打卡
func (s *CheckinService) Cancel(ctx context.Context, actor, recordID uint64) (*model.CheckinRecord, error) {
	var out *model.CheckinRecord
	err := withRetry(ctx, "checkin.cancel", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := &mysql.CheckinRepository{DB: tx}
			rec, err := repo.LockByID(ctx, recordID)
			if err != nil {
				return err
			}
			if rec.OwnerID != actor {
				return errs.Wrapf(errs.ErrNotAuthorized, "record %d belongs to another user", recordID)
			}
			next, changed, err := rec.Status.Cancel()
			if err != nil {
				return err
			}
			out = rec
			if !changed {
				return nil
			}
			rec.CheckinTime = nil
			if err := s.transition(ctx, repo, rec, next); err != nil {
				return err
			}
			checkinTotal.WithLabelValues("cancel", "cancelled").Inc()
			return (&mysql.OutboxRepository{DB: tx}).Insert(ctx, outboxFor(rec, model.EventCheckinCancelled))
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ByRuleAndDate 本人某条规则某天的全部记录，包括已撤销的
func (s *CheckinService) ByRuleAndDate(ctx context.Context, actor uint64, src model.RuleSource, ref uint64, date schedule.Date) ([]model.CheckinRecord, error) {
	switch src {
	case model.SourcePersonal:
		rule, err := (&mysql.RuleRepository{DB: s.db}).FindActive(ctx, ref)
		if err != nil {
			return nil, fromCtx(ctx, err)
		}
		if rule.UserID != actor {
			return nil, errs.Wrapf(errs.ErrNotAuthorized, "rule %d belongs to another user", ref)
		}
	case model.SourceCommunity:
		if _, err := (&mysql.CommunityRuleRepository{DB: s.db}).FindByID(ctx, ref); err != nil {
			return nil, fromCtx(ctx, err)
		}
	default:
		return nil, errs.Wrapf(errs.ErrInvalidArgument, "unknown rule_source %q", src)
	}
	if date.IsZero() {
		date = schedule.Today(s.clock)
	}
	from, to := dayKeys(date)
	list, err := (&mysql.CheckinRepository{DB: s.db}).ByRuleAndDate(ctx, actor, src, ref, from, to)
	return list, fromCtx(ctx, err)
}

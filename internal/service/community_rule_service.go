package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
	"Care_Community/internal/schedule"
)

// CommunityRuleService 社区规则：草稿可改，启用后锁定并下发给成员
type CommunityRuleService struct {
	db         *gorm.DB
	clock      schedule.Clock
	log        *slog.Logger
	perm       *PermissionService
	activation *ActivationService
}

func NewCommunityRuleService(d *Deps, perm *PermissionService, activation *ActivationService) *CommunityRuleService {
	return &CommunityRuleService{db: d.DB, clock: d.Clock, log: d.logger(), perm: perm, activation: activation}
}

func (s *CommunityRuleService) Create(ctx context.Context, actor, communityID uint64, in RuleInput) (*model.CommunityRule, error) {
	sched, err := in.Schedule()
	if err != nil {
		return nil, err
	}
	if err := s.perm.RequireStaff(ctx, actor, communityID); err != nil {
		return nil, err
	}
	if _, err := (&mysql.CommunityRepository{DB: s.db}).FindActive(ctx, communityID); err != nil {
		return nil, fromCtx(ctx, err)
	}
	rule := &model.CommunityRule{
		CommunityID:  communityID,
		RuleName:     strings.TrimSpace(in.RuleName),
		Icon:         in.Icon,
		Description:  in.Description,
		Status:       model.CommunityRuleDraft,
		RuleSchedule: sched,
		CreatedBy:    actor,
	}
	if err := (&mysql.CommunityRuleRepository{DB: s.db}).Create(ctx, rule); err != nil {
		return nil, fromCtx(ctx, err)
	}
	return rule, nil
}

// authorize 规则所属社区不可变，锁外读一次用于权限判定
func (s *CommunityRuleService) authorize(ctx context.Context, actor, ruleID uint64) (*model.CommunityRule, error) {
	rule, err := (&mysql.CommunityRuleRepository{DB: s.db}).FindByID(ctx, ruleID)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	if err := s.perm.RequireStaff(ctx, actor, rule.CommunityID); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *CommunityRuleService) Get(ctx context.Context, actor, ruleID uint64) (*model.CommunityRule, error) {
	return s.authorize(ctx, actor, ruleID)
}

func (s *CommunityRuleService) List(ctx context.Context, actor, communityID uint64, includeDraft bool) ([]model.CommunityRule, error) {
	if err := s.perm.RequireStaff(ctx, actor, communityID); err != nil {
		return nil, err
	}
	list, err := (&mysql.CommunityRuleRepository{DB: s.db}).List(ctx, communityID, includeDraft)
	return list, fromCtx(ctx, err)
}

// Update 只允许修改草稿
func (s *CommunityRuleService) Update(ctx context.Context, actor, ruleID uint64, in RuleInput) (*model.CommunityRule, error) {
	sched, err := in.Schedule()
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, actor, ruleID); err != nil {
		return nil, err
	}
	var out *model.CommunityRule
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := &mysql.CommunityRuleRepository{DB: tx}
		rule, err := repo.LockByID(ctx, ruleID)
		if err != nil {
			return err
		}
		if err := rule.Status.Editable(); err != nil {
			return err
		}
		if err := repo.Update(ctx, ruleID, map[string]any{
			"rule_name":         strings.TrimSpace(in.RuleName),
			"icon":              in.Icon,
			"description":       in.Description,
			"frequency_type":    sched.FrequencyType,
			"time_slot_type":    sched.TimeSlotType,
			"custom_time":       sched.CustomTime,
			"week_days_bitmask": sched.WeekDaysBitmask,
			"custom_start_date": sched.CustomStartDate,
			"custom_end_date":   sched.CustomEndDate,
		}); err != nil {
			return err
		}
		out, err = repo.FindByID(ctx, ruleID)
		return err
	})
	return out, fromCtx(ctx, err)
}

// Enable 草稿转启用，同一事务内为全体成员写激活行；
// 成员过多时标记 fanout_pending，由后台补齐
func (s *CommunityRuleService) Enable(ctx context.Context, actor, ruleID uint64) (*model.CommunityRule, error) {
	if _, err := s.authorize(ctx, actor, ruleID); err != nil {
		return nil, err
	}
	var out *model.CommunityRule
	err := withRetry(ctx, "community_rule.enable", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := &mysql.CommunityRuleRepository{DB: tx}
			rule, err := repo.LockByID(ctx, ruleID)
			if err != nil {
				return err
			}
			next, err := rule.Status.Enable()
			if err != nil {
				return err
			}
			now := s.clock.Now()
			fields := map[string]any{"status": next, "enabled_by": actor, "enabled_at": now}
			if err := repo.Update(ctx, ruleID, fields); err != nil {
				return err
			}
			pending, err := s.activation.Apply(ctx, tx, ActivationEvent{Kind: RuleEnabled, RuleID: ruleID, CommunityID: rule.CommunityID})
			if err != nil {
				return err
			}
			if pending {
				if err := repo.Update(ctx, ruleID, map[string]any{"fanout_pending": true}); err != nil {
					return err
				}
			}
			if err := (&mysql.OutboxRepository{DB: tx}).Insert(ctx, mysql.Event{
				Type:        model.EventCommunityRuleOn,
				AggregateID: ruleID,
				UserID:      actor,
				Data:        map[string]any{"community_id": rule.CommunityID, "fanout_pending": pending},
			}); err != nil {
				return err
			}
			out, err = repo.FindByID(ctx, ruleID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "community rule enabled", "rule_id", ruleID, "actor", actor, "fanout_pending", out.FanoutPending)
	return out, nil
}

// Disable 回到草稿并停用全部激活行，已有记录保留
func (s *CommunityRuleService) Disable(ctx context.Context, actor, ruleID uint64) (*model.CommunityRule, error) {
	if _, err := s.authorize(ctx, actor, ruleID); err != nil {
		return nil, err
	}
	var out *model.CommunityRule
	err := withRetry(ctx, "community_rule.disable", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := &mysql.CommunityRuleRepository{DB: tx}
			rule, err := repo.LockByID(ctx, ruleID)
			if err != nil {
				return err
			}
			next, err := rule.Status.Disable()
			if err != nil {
				return err
			}
			if err := repo.Update(ctx, ruleID, map[string]any{
				"status":         next,
				"fanout_pending": false,
				"disabled_by":    actor,
				"disabled_at":    s.clock.Now(),
			}); err != nil {
				return err
			}
			if _, err := s.activation.Apply(ctx, tx, ActivationEvent{Kind: RuleDisabled, RuleID: ruleID, CommunityID: rule.CommunityID}); err != nil {
				return err
			}
			if err := (&mysql.OutboxRepository{DB: tx}).Insert(ctx, mysql.Event{
				Type:        model.EventCommunityRuleOff,
				AggregateID: ruleID,
				UserID:      actor,
				Data:        map[string]any{"community_id": rule.CommunityID},
			}); err != nil {
				return err
			}
			out, err = repo.FindByID(ctx, ruleID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "community rule disabled", "rule_id", ruleID, "actor", actor)
	return out, nil
}

// Delete 只能删除草稿
func (s *CommunityRuleService) Delete(ctx context.Context, actor, ruleID uint64) error {
	if _, err := s.authorize(ctx, actor, ruleID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := &mysql.CommunityRuleRepository{DB: tx}
		rule, err := repo.LockByID(ctx, ruleID)
		if err != nil {
			return err
		}
		next, err := rule.Status.Delete()
		if err != nil {
			return err
		}
		return repo.Update(ctx, ruleID, map[string]any{"status": next})
	})
	return fromCtx(ctx, err)
}

func errIsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}

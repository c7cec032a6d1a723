package service

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
	"Care_Community/internal/schedule"
)

// RuleInput 创建/修改规则的入参，个人规则和社区规则共用
type RuleInput struct {
	RuleName        string         `json:"rule_name" binding:"required"`
	Icon            string         `json:"icon"`
	Description     string         `json:"description"`
	FrequencyType   string         `json:"frequency_type"`
	TimeSlotType    string         `json:"time_slot_type"`
	CustomTime      string         `json:"custom_time"`
	WeekDaysBitmask int            `json:"week_days_bitmask"`
	CustomStartDate *schedule.Date `json:"custom_start_date"`
	CustomEndDate   *schedule.Date `json:"custom_end_date"`
}

const maxRuleNameLen = 64

// Schedule 填默认值并校验
func (in RuleInput) Schedule() (model.RuleSchedule, error) {
	name := strings.TrimSpace(in.RuleName)
	if name == "" || len([]rune(name)) > maxRuleNameLen {
		return model.RuleSchedule{}, errs.Wrapf(errs.ErrInvalidArgument, "rule_name must be 1-%d characters", maxRuleNameLen)
	}
	s := model.RuleSchedule{
		FrequencyType:   in.FrequencyType,
		TimeSlotType:    in.TimeSlotType,
		CustomTime:      in.CustomTime,
		WeekDaysBitmask: in.WeekDaysBitmask,
		CustomStartDate: in.CustomStartDate,
		CustomEndDate:   in.CustomEndDate,
	}
	if s.FrequencyType == "" {
		s.FrequencyType = string(schedule.FrequencyEveryday)
	}
	if s.TimeSlotType == "" {
		s.TimeSlotType = string(schedule.SlotEvening)
	}
	if s.TimeSlotType != string(schedule.SlotCustom) {
		s.CustomTime = ""
	}
	return s, s.Validate()
}

// RuleService 个人打卡规则
type RuleService struct {
	db *gorm.DB
}

func NewRuleService(d *Deps) *RuleService {
	return &RuleService{db: d.DB}
}

func (s *RuleService) Create(ctx context.Context, actor uint64, in RuleInput) (*model.Rule, error) {
	sched, err := in.Schedule()
	if err != nil {
		return nil, err
	}
	u, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, actor)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	rule := &model.Rule{
		UserID:       actor,
		RuleName:     strings.TrimSpace(in.RuleName),
		Icon:         in.Icon,
		Status:       model.RuleActive,
		RuleSchedule: sched,
	}
	if u.CommunityID != nil {
		rule.CommunityID = *u.CommunityID
	}
	if err := (&mysql.RuleRepository{DB: s.db}).Create(ctx, rule); err != nil {
		return nil, fromCtx(ctx, err)
	}
	return rule, nil
}

// owned 规则存在、未删除、属于 actor
func (s *RuleService) owned(ctx context.Context, db *gorm.DB, actor, ruleID uint64) (*model.Rule, error) {
	rule, err := (&mysql.RuleRepository{DB: db}).FindActive(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.UserID != actor {
		return nil, errs.Wrapf(errs.ErrNotAuthorized, "rule %d belongs to another user", ruleID)
	}
	return rule, nil
}

func (s *RuleService) Get(ctx context.Context, actor, ruleID uint64) (*model.Rule, error) {
	rule, err := s.owned(ctx, s.db, actor, ruleID)
	return rule, fromCtx(ctx, err)
}

// Update 只改重复方式与展示字段，已有记录不受影响
func (s *RuleService) Update(ctx context.Context, actor, ruleID uint64, in RuleInput) (*model.Rule, error) {
	sched, err := in.Schedule()
	if err != nil {
		return nil, err
	}
	var out *model.Rule
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.owned(ctx, tx, actor, ruleID); err != nil {
			return err
		}
		repo := &mysql.RuleRepository{DB: tx}
		ok, err := repo.UpdateSchedule(ctx, ruleID, actor, strings.TrimSpace(in.RuleName), in.Icon, sched)
		if err != nil {
			return err
		}
		if !ok {
			// MySQL 对未变化的行返回 0，重新读一次确认规则仍然有效
			if _, err := s.owned(ctx, tx, actor, ruleID); err != nil {
				return err
			}
		}
		out, err = repo.FindActive(ctx, ruleID)
		return err
	})
	return out, fromCtx(ctx, err)
}

// Delete 软删除。之后所有读路径都看不到这条规则，历史记录保留
func (s *RuleService) Delete(ctx context.Context, actor, ruleID uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rule, err := (&mysql.RuleRepository{DB: tx}).FindByID(ctx, ruleID)
		if err != nil {
			return err
		}
		if rule.UserID != actor {
			return errs.Wrapf(errs.ErrNotAuthorized, "rule %d belongs to another user", ruleID)
		}
		if _, err := rule.Status.Delete(); err != nil {
			return err
		}
		_, err = (&mysql.RuleRepository{DB: tx}).SoftDelete(ctx, ruleID, actor)
		return err
	})
	return fromCtx(ctx, err)
}

func (s *RuleService) List(ctx context.Context, actor uint64) ([]model.Rule, error) {
	list, err := (&mysql.RuleRepository{DB: s.db}).ListActiveFor(ctx, actor)
	return list, fromCtx(ctx, err)
}

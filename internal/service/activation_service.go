package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
)

type ActivationKind int

const (
	RuleEnabled ActivationKind = iota + 1
	RuleDisabled
	MembershipChanged
)

// ActivationEvent 引起激活表变化的事件。
// RuleEnabled/RuleDisabled 用 RuleID、CommunityID；MembershipChanged 用 UserID、From、To
type ActivationEvent struct {
	Kind        ActivationKind
	RuleID      uint64
	CommunityID uint64
	UserID      uint64
	From        *uint64
	To          *uint64
}

// fanoutBatch 下发时每批写入的成员数
const fanoutBatch = 500

// ActivationService 维护用户与社区规则的激活表
type ActivationService struct {
	db          *gorm.DB
	log         *slog.Logger
	perm        *PermissionService
	syncLimit   int
	heal        singleflight.Group
	healTimeout time.Duration
}

func NewActivationService(d *Deps, perm *PermissionService) *ActivationService {
	timeout := d.Care.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ActivationService{
		db:          d.DB,
		log:         d.logger(),
		perm:        perm,
		syncLimit:   d.Care.FanoutSyncLimit,
		healTimeout: timeout,
	}
}

// Apply 在调用方事务内处理一个事件。
// 成员数超过同步上限时不写激活行，返回 pending=true 交给 FanoutReconciler
func (s *ActivationService) Apply(ctx context.Context, tx *gorm.DB, ev ActivationEvent) (pending bool, err error) {
	act := &mysql.ActivationRepository{DB: tx}
	switch ev.Kind {
	case RuleEnabled:
		users := &mysql.UserRepository{DB: tx}
		if s.syncLimit > 0 {
			n, err := users.CountMembers(ctx, ev.CommunityID)
			if err != nil {
				return false, err
			}
			if n > int64(s.syncLimit) {
				s.log.InfoContext(ctx, "fanout deferred", "rule_id", ev.RuleID, "members", n)
				return true, nil
			}
		}
		var last uint64
		for {
			ids, err := users.LockMemberIDs(ctx, ev.CommunityID, last, fanoutBatch)
			if err != nil {
				return false, err
			}
			if err := act.ActivateMany(ctx, ids, ev.RuleID); err != nil {
				return false, err
			}
			fanoutMembersTotal.WithLabelValues("sync").Add(float64(len(ids)))
			if len(ids) < fanoutBatch {
				return false, nil
			}
			last = ids[len(ids)-1]
		}

	case RuleDisabled:
		n, err := act.DeactivateRule(ctx, ev.RuleID)
		if err != nil {
			return false, err
		}
		s.log.InfoContext(ctx, "rule deactivated", "rule_id", ev.RuleID, "rows", n)
		return false, nil

	case MembershipChanged:
		rules := &mysql.CommunityRuleRepository{DB: tx}
		if ev.From != nil {
			ids, err := rules.EnabledIDs(ctx, *ev.From)
			if err != nil {
				return false, err
			}
			if err := act.Deactivate(ctx, ev.UserID, ids...); err != nil {
				return false, err
			}
		}
		if ev.To != nil {
			ids, err := rules.EnabledIDs(ctx, *ev.To)
			if err != nil {
				return false, err
			}
			if err := act.ActivateRules(ctx, ev.UserID, ids); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	return false, errs.Wrapf(errs.ErrInvalidArgument, "unknown activation event %d", ev.Kind)
}

// SelfHeal 为当前社区中已启用、却没有映射行的规则补上激活行。
// 已存在的停用行不会被改动；同一用户的并发调用合并为一次，
// 合并后的查询不受任何单个调用方取消的影响，只受 healTimeout 约束
func (s *ActivationService) SelfHeal(ctx context.Context, userID uint64) error {
	ch := s.heal.DoChan(strconv.FormatUint(userID, 10), func() (any, error) {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.healTimeout)
		defer cancel()
		return nil, s.selfHeal(hctx, userID)
	})
	select {
	case <-ctx.Done():
		return fromCtx(ctx, ctx.Err())
	case r := <-ch:
		return r.Err
	}
}

func (s *ActivationService) selfHeal(ctx context.Context, userID uint64) error {
	u, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.CommunityID == nil {
		return nil
	}
	act := &mysql.ActivationRepository{DB: s.db}
	missing, err := act.MissingEnabled(ctx, userID, *u.CommunityID)
	if err != nil || len(missing) == 0 {
		return err
	}
	if err := act.InsertMissing(ctx, userID, missing); err != nil {
		return err
	}
	selfHealTotal.Add(float64(len(missing)))
	s.log.InfoContext(ctx, "activation self-healed", "user_id", userID, "rules", missing)
	return nil
}

// ActiveRulesFor 用户当前生效的社区规则，读之前先自愈
func (s *ActivationService) ActiveRulesFor(ctx context.Context, userID uint64) ([]mysql.ActiveCommunityRule, error) {
	if err := s.SelfHeal(ctx, userID); err != nil {
		return nil, fromCtx(ctx, err)
	}
	list, err := (&mysql.ActivationRepository{DB: s.db}).ActiveRulesFor(ctx, userID)
	return list, fromCtx(ctx, err)
}

// EnsureMapping 在打卡事务内取映射行；用户已不在规则所属社区时返回 nil，
// 映射缺失时补一行
func (s *ActivationService) EnsureMapping(ctx context.Context, tx *gorm.DB, userID uint64, rule *model.CommunityRule) (*model.UserCommunityRule, error) {
	u, err := (&mysql.UserRepository{DB: tx}).FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.InCommunity(rule.CommunityID) {
		return nil, nil
	}
	act := &mysql.ActivationRepository{DB: tx}
	m, err := act.Find(ctx, userID, rule.ID)
	if err != nil || m != nil {
		return m, err
	}
	if err := act.InsertMissing(ctx, userID, []uint64{rule.ID}); err != nil {
		return nil, err
	}
	selfHealTotal.Inc()
	return act.Find(ctx, userID, rule.ID)
}

// SetMemberActive 工作人员为单个成员开关一条社区规则
func (s *ActivationService) SetMemberActive(ctx context.Context, actor, ruleID, userID uint64, active bool) error {
	rule, err := (&mysql.CommunityRuleRepository{DB: s.db}).FindByID(ctx, ruleID)
	if err != nil {
		return fromCtx(ctx, err)
	}
	if err := s.perm.RequireStaff(ctx, actor, rule.CommunityID); err != nil {
		return err
	}
	return withRetry(ctx, "activation.set", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			locked, err := (&mysql.CommunityRuleRepository{DB: tx}).LockByID(ctx, ruleID)
			if err != nil {
				return err
			}
			if active && locked.Status != model.CommunityRuleEnabled {
				return errs.Wrapf(errs.ErrRuleNotActive, "community rule %d is %s", ruleID, locked.Status)
			}
			u, err := (&mysql.UserRepository{DB: tx}).FindByID(ctx, userID)
			if err != nil {
				return err
			}
			if !u.InCommunity(locked.CommunityID) {
				return errs.Wrapf(errs.ErrInvalidArgument, "user %d is not a member of community %d", userID, locked.CommunityID)
			}
			return (&mysql.ActivationRepository{DB: tx}).Set(ctx, userID, ruleID, active)
		})
	})
}

// RuleMembers 规则当前激活的成员，按用户 id 游标
func (s *ActivationService) RuleMembers(ctx context.Context, actor, ruleID, lastUserID uint64, limit int) ([]uint64, error) {
	rule, err := (&mysql.CommunityRuleRepository{DB: s.db}).FindByID(ctx, ruleID)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	if err := s.perm.RequireStaff(ctx, actor, rule.CommunityID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > fanoutBatch {
		limit = fanoutBatch
	}
	ids, err := (&mysql.ActivationRepository{DB: s.db}).UsersOf(ctx, ruleID, lastUserID, limit)
	return ids, fromCtx(ctx, err)
}

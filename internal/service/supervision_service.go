package service

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/pkg"
	"Care_Community/internal/repository/mysql"
	"Care_Community/internal/schedule"
)

// InviteNotifier 邀请链接的邮件通知
type InviteNotifier interface {
	NotifyInvite(ctx context.Context, target *model.User, email, token string, expiresAt time.Time) error
}

// ReadScope 某个读者对某个用户记录的可见范围
type ReadScope struct {
	Self          bool
	AllPersonal   bool
	PersonalRules map[uint64]bool
	Community     bool
}

func (s ReadScope) Allows(src model.RuleSource, ruleID uint64) bool {
	if s.Self {
		return true
	}
	switch src {
	case model.SourcePersonal:
		return s.AllPersonal || s.PersonalRules[ruleID]
	case model.SourceCommunity:
		return s.Community
	}
	return false
}

func (s ReadScope) Empty() bool {
	return !s.Self && !s.AllPersonal && len(s.PersonalRules) == 0 && !s.Community
}

// InviteLink 创建链接邀请的结果
type InviteLink struct {
	Token     string                      `json:"token"`
	ExpiresAt time.Time                   `json:"expires_at"`
	Relations []model.SupervisionRelation `json:"relations"`
}

// SupervisionService 监督关系：邀请、绑定、接受/拒绝/撤回，以及按关系授权读取
type SupervisionService struct {
	db        *gorm.DB
	clock     schedule.Clock
	log       *slog.Logger
	inviteTTL time.Duration
	perm      *PermissionService
	plans     *PlanService
	notifier  InviteNotifier
}

func NewSupervisionService(d *Deps, perm *PermissionService, plans *PlanService, notifier InviteNotifier) *SupervisionService {
	return &SupervisionService{
		db:        d.DB,
		clock:     d.Clock,
		log:       d.logger(),
		inviteTTL: d.Care.InviteTTL,
		perm:      perm,
		plans:     plans,
		notifier:  notifier,
	}
}

// ruleScopes 空列表表示覆盖全部个人规则；非空时每条都必须是 target 未删除的个人规则
func (s *SupervisionService) ruleScopes(ctx context.Context, tx *gorm.DB, target uint64, ruleIDs []uint64) ([]*uint64, error) {
	if len(ruleIDs) == 0 {
		return []*uint64{nil}, nil
	}
	ids := slices.Clone(ruleIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	owned, err := (&mysql.RuleRepository{DB: tx}).OwnedActiveIDs(ctx, target, ids)
	if err != nil {
		return nil, err
	}
	if len(owned) != len(ids) {
		return nil, errs.Wrapf(errs.ErrNotFound, "some rules do not exist or belong to another user")
	}
	out := make([]*uint64, 0, len(ids))
	for _, id := range ids {
		out = append(out, &id)
	}
	return out, nil
}

// InviteUser 直接邀请一个已知用户，同一范围已有有效关系时复用
func (s *SupervisionService) InviteUser(ctx context.Context, target uint64, ruleIDs []uint64, supervisor uint64) ([]model.SupervisionRelation, error) {
	if target == supervisor {
		return nil, errs.Wrapf(errs.ErrInvalidArgument, "cannot supervise yourself")
	}
	var out []model.SupervisionRelation
	err := withRetry(ctx, "supervision.invite_user", func() error {
		out = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := (&mysql.UserRepository{DB: tx}).FindByID(ctx, supervisor); err != nil {
				return err
			}
			scopes, err := s.ruleScopes(ctx, tx, target, ruleIDs)
			if err != nil {
				return err
			}
			repo := &mysql.SupervisionRepository{DB: tx}
			var fresh []model.SupervisionRelation
			for _, rid := range scopes {
				ex, err := repo.Existing(ctx, target, rid, supervisor)
				if err != nil {
					return err
				}
				if ex != nil {
					out = append(out, *ex)
					continue
				}
				sup := supervisor
				fresh = append(fresh, model.SupervisionRelation{
					TargetUserID:     target,
					RuleID:           rid,
					SupervisorUserID: &sup,
					Status:           model.RelationPending,
				})
			}
			if err := repo.CreateBatch(ctx, fresh); err != nil {
				return err
			}
			out = append(out, fresh...)
			for _, r := range fresh {
				if err := (&mysql.OutboxRepository{DB: tx}).Insert(ctx, mysql.Event{
					Type:        model.EventSupervisionInvited,
					AggregateID: r.ID,
					UserID:      supervisor,
					Data:        map[string]any{"target_user_id": target, "rule_id": r.RuleID},
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InviteLink 生成一个共享 token 的邀请链接；email 非空时提交后发邮件，发送失败不影响结果
func (s *SupervisionService) InviteLink(ctx context.Context, target uint64, ruleIDs []uint64, ttl time.Duration, email string) (*InviteLink, error) {
	if ttl <= 0 {
		ttl = s.inviteTTL
	}
	token, err := pkg.NewInviteToken()
	if err != nil {
		return nil, err
	}
	expires := s.clock.Now().Add(ttl)
	link := &InviteLink{Token: token, ExpiresAt: expires}
	var targetUser *model.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := (&mysql.UserRepository{DB: tx}).FindByID(ctx, target)
		if err != nil {
			return err
		}
		targetUser = u
		scopes, err := s.ruleScopes(ctx, tx, target, ruleIDs)
		if err != nil {
			return err
		}
		rels := make([]model.SupervisionRelation, 0, len(scopes))
		for _, rid := range scopes {
			tok := token
			exp := expires
			rels = append(rels, model.SupervisionRelation{
				TargetUserID:    target,
				RuleID:          rid,
				Status:          model.RelationPending,
				InviteToken:     &tok,
				InviteExpiresAt: &exp,
			})
		}
		if err := (&mysql.SupervisionRepository{DB: tx}).CreateBatch(ctx, rels); err != nil {
			return err
		}
		link.Relations = rels
		return nil
	})
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	if email != "" && s.notifier != nil {
		if err := s.notifier.NotifyInvite(ctx, targetUser, email, token, expires); err != nil {
			s.log.WarnContext(ctx, "invite mail failed", "target", target, "err", err)
		}
	}
	return link, nil
}

// Resolve 用链接 token 把关系绑定到 supervisor。
// 绑定是一次条件更新；同一个人重复打开链接返回已绑定的关系
func (s *SupervisionService) Resolve(ctx context.Context, token string, supervisor uint64) ([]model.SupervisionRelation, error) {
	if token == "" {
		return nil, errs.Wrapf(errs.ErrInvalidArgument, "empty invite token")
	}
	repo := &mysql.SupervisionRepository{DB: s.db}
	rels, err := repo.ByToken(ctx, token)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	if len(rels) == 0 {
		return nil, errs.Wrapf(errs.ErrNotFound, "invite not found")
	}
	if rels[0].TargetUserID == supervisor {
		return nil, errs.Wrapf(errs.ErrInvalidArgument, "cannot supervise yourself")
	}
	if _, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, supervisor); err != nil {
		return nil, fromCtx(ctx, err)
	}
	bound := func(list []model.SupervisionRelation) (mine, other bool) {
		for i := range list {
			if list[i].SupervisedBy(supervisor) {
				mine = true
			} else if list[i].SupervisorUserID != nil {
				other = true
			}
		}
		return
	}
	if mine, other := bound(rels); other {
		return nil, errs.Wrapf(errs.ErrInviteAlreadyBound, "invite bound to another user")
	} else if mine {
		return rels, nil
	}
	now := s.clock.Now()
	expired := func(list []model.SupervisionRelation) error {
		if exp := list[0].InviteExpiresAt; exp != nil && !now.Before(*exp) {
			return errs.Wrapf(errs.ErrInviteExpired, "invite expired at %s", exp.Format(time.RFC3339))
		}
		return nil
	}
	if err := expired(rels); err != nil {
		return nil, err
	}

	n, err := repo.BindToken(ctx, token, supervisor, now)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	rels, err = repo.ByToken(ctx, token)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	if n == 0 {
		mine, other := bound(rels)
		switch {
		case other:
			return nil, errs.Wrapf(errs.ErrInviteAlreadyBound, "invite bound to another user")
		case !mine:
			if err := expired(rels); err != nil {
				return nil, err
			}
			return nil, errs.Wrapf(errs.ErrNotFound, "invite no longer pending")
		}
	}
	s.log.InfoContext(ctx, "invite resolved", "target", rels[0].TargetUserID, "supervisor", supervisor, "relations", len(rels))
	return rels, nil
}

// setStatus 在行锁下做一次状态迁移，check 决定谁有权操作
func (s *SupervisionService) setStatus(ctx context.Context, relID uint64, op string,
	check func(*model.SupervisionRelation) error,
	next func(model.RelationStatus) (model.RelationStatus, error),
	after func(tx *gorm.DB, rel *model.SupervisionRelation) error,
) (*model.SupervisionRelation, error) {
	var out *model.SupervisionRelation
	err := withRetry(ctx, op, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := &mysql.SupervisionRepository{DB: tx}
			rel, err := repo.LockByID(ctx, relID)
			if err != nil {
				return err
			}
			if err := check(rel); err != nil {
				return err
			}
			to, err := next(rel.Status)
			if err != nil {
				return err
			}
			out = rel
			if to == rel.Status {
				return nil
			}
			ok, err := repo.SetStatus(ctx, relID, rel.Status, to)
			if err != nil {
				return err
			}
			if !ok {
				return errs.Wrapf(errs.ErrConflict, "relation %d changed concurrently", relID)
			}
			rel.Status = to
			if after != nil {
				return after(tx, rel)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SupervisionService) supervisorOnly(supervisor uint64) func(*model.SupervisionRelation) error {
	return func(rel *model.SupervisionRelation) error {
		if !rel.SupervisedBy(supervisor) {
			return errs.Wrapf(errs.ErrNotAuthorized, "relation %d is not addressed to user %d", rel.ID, supervisor)
		}
		return nil
	}
}

func (s *SupervisionService) Accept(ctx context.Context, relID, supervisor uint64) (*model.SupervisionRelation, error) {
	return s.setStatus(ctx, relID, "supervision.accept", s.supervisorOnly(supervisor), model.RelationStatus.Accept,
		func(tx *gorm.DB, rel *model.SupervisionRelation) error {
			return (&mysql.OutboxRepository{DB: tx}).Insert(ctx, mysql.Event{
				Type:        model.EventSupervisionAccepted,
				AggregateID: rel.ID,
				UserID:      rel.TargetUserID,
				Data:        map[string]any{"supervisor_user_id": supervisor, "rule_id": rel.RuleID},
			})
		})
}

func (s *SupervisionService) Reject(ctx context.Context, relID, supervisor uint64) (*model.SupervisionRelation, error) {
	return s.setStatus(ctx, relID, "supervision.reject", s.supervisorOnly(supervisor), model.RelationStatus.Reject, nil)
}

// Revoke 只有被监督人可以收回
func (s *SupervisionService) Revoke(ctx context.Context, relID, target uint64) (*model.SupervisionRelation, error) {
	return s.setStatus(ctx, relID, "supervision.revoke", func(rel *model.SupervisionRelation) error {
		if rel.TargetUserID != target {
			return errs.Wrapf(errs.ErrNotAuthorized, "relation %d belongs to another user", rel.ID)
		}
		return nil
	}, model.RelationStatus.Revoke, nil)
}

func (s *SupervisionService) ListIncoming(ctx context.Context, supervisor uint64, status []model.RelationStatus) ([]model.SupervisionRelation, error) {
	list, err := (&mysql.SupervisionRepository{DB: s.db}).Incoming(ctx, supervisor, status)
	return list, fromCtx(ctx, err)
}

func (s *SupervisionService) ListOutgoing(ctx context.Context, target uint64, status []model.RelationStatus) ([]model.SupervisionRelation, error) {
	list, err := (&mysql.SupervisionRepository{DB: s.db}).Outgoing(ctx, target, status)
	return list, fromCtx(ctx, err)
}

// Scope actor 对 target 记录的可见范围。
// 个人规则由已接受的监督关系决定，社区规则只看社区工作人员身份
func (s *SupervisionService) Scope(ctx context.Context, actor, target uint64) (ReadScope, error) {
	if actor == target {
		return ReadScope{Self: true}, nil
	}
	var scope ReadScope
	rels, err := (&mysql.SupervisionRepository{DB: s.db}).Accepted(ctx, actor, target)
	if err != nil {
		return scope, fromCtx(ctx, err)
	}
	for _, r := range rels {
		if r.RuleID == nil {
			scope.AllPersonal = true
			continue
		}
		if scope.PersonalRules == nil {
			scope.PersonalRules = map[uint64]bool{}
		}
		scope.PersonalRules[*r.RuleID] = true
	}
	u, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, target)
	if err != nil {
		return scope, fromCtx(ctx, err)
	}
	if u.CommunityID != nil {
		ok, err := s.perm.StaffHasPermission(ctx, actor, *u.CommunityID)
		if err != nil {
			return scope, fromCtx(ctx, err)
		}
		scope.Community = ok
	}
	return scope, nil
}

// AuthorizeRead ruleRef 为空时只判断 actor 能否看到 target 的任何记录
func (s *SupervisionService) AuthorizeRead(ctx context.Context, actor, target uint64, src model.RuleSource, ruleRef *uint64) (bool, error) {
	scope, err := s.Scope(ctx, actor, target)
	if err != nil {
		return false, err
	}
	if ruleRef == nil {
		return !scope.Empty(), nil
	}
	return scope.Allows(src, *ruleRef), nil
}

func (s *SupervisionService) requireScope(ctx context.Context, actor, target uint64) (ReadScope, error) {
	scope, err := s.Scope(ctx, actor, target)
	if err != nil {
		return scope, err
	}
	if scope.Empty() {
		return scope, errs.Wrapf(errs.ErrNotAuthorized, "user %d cannot read records of user %d", actor, target)
	}
	return scope, nil
}

// SupervisorPlan target 当天计划中 actor 有权看到的部分
func (s *SupervisionService) SupervisorPlan(ctx context.Context, actor, target uint64, date schedule.Date) ([]PlanItem, error) {
	scope, err := s.requireScope(ctx, actor, target)
	if err != nil {
		return nil, err
	}
	items, err := s.plans.TodayPlan(ctx, target, date)
	if err != nil {
		return nil, err
	}
	out := make([]PlanItem, 0, len(items))
	for _, it := range items {
		if scope.Allows(it.RuleSource, it.RuleRef) {
			it.IsEditable = it.IsEditable && scope.Self
			out = append(out, it)
		}
	}
	return out, nil
}

// SupervisorHistory 按可见范围过滤的历史记录
func (s *SupervisionService) SupervisorHistory(ctx context.Context, actor, target uint64, q HistoryQuery) (*HistoryPage, error) {
	scope, err := s.requireScope(ctx, actor, target)
	if err != nil {
		return nil, err
	}
	f := mysql.HistoryFilter{OwnerID: target, Community: scope.Self || scope.Community}
	switch {
	case scope.Self || scope.AllPersonal:
		f.Personal = true
	case len(scope.PersonalRules) > 0:
		f.Personal = true
		for id := range scope.PersonalRules {
			f.RuleIDs = append(f.RuleIDs, id)
		}
		slices.Sort(f.RuleIDs)
	}
	return s.plans.history(ctx, f, q)
}

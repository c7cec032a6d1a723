package service

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
)

// MembershipService 用户所属社区的变更，按用户行串行
type MembershipService struct {
	db         *gorm.DB
	log        *slog.Logger
	perm       *PermissionService
	activation *ActivationService
}

func NewMembershipService(d *Deps, perm *PermissionService, activation *ActivationService) *MembershipService {
	return &MembershipService{db: d.DB, log: d.logger(), perm: perm, activation: activation}
}

// Change 把用户迁到 newCommunityID。需要目标社区的工作人员权限；
// 迁入沙箱社区相当于移出，检查的是原社区的权限
func (s *MembershipService) Change(ctx context.Context, actor, userID, newCommunityID uint64) (*model.User, error) {
	u, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, userID)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	gate := newCommunityID
	if newCommunityID == model.SandboxCommunityID && u.CommunityID != nil {
		gate = *u.CommunityID
	}
	if err := s.perm.RequireStaff(ctx, actor, gate); err != nil {
		return nil, err
	}
	if _, err := (&mysql.CommunityRepository{DB: s.db}).FindActive(ctx, newCommunityID); err != nil {
		return nil, fromCtx(ctx, err)
	}

	var out *model.User
	err = withRetry(ctx, "membership.change", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			out, err = s.move(ctx, tx, actor, userID, newCommunityID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove 移到沙箱社区
func (s *MembershipService) Remove(ctx context.Context, actor, userID uint64) (*model.User, error) {
	return s.Change(ctx, actor, userID, model.SandboxCommunityID)
}

// move 事务内锁用户行，更新社区并级联激活表
func (s *MembershipService) move(ctx context.Context, tx *gorm.DB, actor, userID, to uint64) (*model.User, error) {
	users := &mysql.UserRepository{DB: tx}
	u, err := users.LockByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.InCommunity(to) {
		return u, nil
	}
	from := u.CommunityID
	target := to
	if err := users.UpdateCommunity(ctx, userID, &target); err != nil {
		return nil, err
	}
	if _, err := s.activation.Apply(ctx, tx, ActivationEvent{Kind: MembershipChanged, UserID: userID, From: from, To: &target}); err != nil {
		return nil, err
	}
	data := map[string]any{"to": to}
	if from != nil {
		data["from"] = *from
	}
	if err := (&mysql.OutboxRepository{DB: tx}).Insert(ctx, mysql.Event{
		Type:        model.EventMembershipChanged,
		AggregateID: userID,
		UserID:      userID,
		Data:        data,
	}); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "membership changed", "user_id", userID, "from", from, "to", to, "actor", actor)
	u.CommunityID = &target
	return u, nil
}

// Members 社区成员分页，工作人员可见
func (s *MembershipService) Members(ctx context.Context, actor, communityID uint64, page, size int) ([]model.User, int64, error) {
	if err := s.perm.RequireStaff(ctx, actor, communityID); err != nil {
		return nil, 0, err
	}
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > maxPerPage {
		size = defaultPerPage
	}
	list, total, err := (&mysql.UserRepository{DB: s.db}).ListMembers(ctx, communityID, (page-1)*size, size)
	if err != nil {
		return nil, 0, fromCtx(ctx, err)
	}
	return list, total, nil
}

// joinDefault 注册事务内把新用户放进默认社区
func (s *MembershipService) joinDefault(ctx context.Context, tx *gorm.DB, userID uint64) error {
	if _, err := (&mysql.CommunityRepository{DB: tx}).FindActive(ctx, model.DefaultCommunityID); err != nil {
		return errs.Wrapf(errs.ErrNotFound, "default community missing, run migrate")
	}
	_, err := s.move(ctx, tx, userID, userID, model.DefaultCommunityID)
	return err
}

package service

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
)

// CommunityService 社区与工作人员
type CommunityService struct {
	db   *gorm.DB
	perm *PermissionService
}

func NewCommunityService(d *Deps, perm *PermissionService) *CommunityService {
	return &CommunityService{db: d.DB, perm: perm}
}

// CreateCommunity 仅超级管理员
func (s *CommunityService) CreateCommunity(ctx context.Context, actor uint64, name, desc string) (*model.Community, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Wrapf(errs.ErrInvalidArgument, "community name required")
	}
	if err := s.perm.RequireSuperAdmin(ctx, actor); err != nil {
		return nil, err
	}
	community := &model.Community{
		Name:        name,
		Description: desc,
		Status:      model.CommunityActive,
		CreatorID:   actor,
	}
	if err := (&mysql.CommunityRepository{DB: s.db}).Create(ctx, community); err != nil {
		return nil, fromCtx(ctx, err)
	}
	return community, nil
}

func (s *CommunityService) GetCommunity(ctx context.Context, id uint64) (*model.Community, error) {
	c, err := (&mysql.CommunityRepository{DB: s.db}).FindByID(ctx, id)
	return c, fromCtx(ctx, err)
}

func (s *CommunityService) ListCommunities(ctx context.Context, page, size int) ([]model.Community, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 50 {
		size = 20
	}
	offset := (page - 1) * size
	list, err := (&mysql.CommunityRepository{DB: s.db}).List(ctx, offset, size)
	return list, fromCtx(ctx, err)
}

// SetStatus 保留社区不能停用
func (s *CommunityService) SetStatus(ctx context.Context, actor, id uint64, status model.CommunityStatus) error {
	if status != model.CommunityActive && status != model.CommunityDisabled {
		return errs.Wrapf(errs.ErrInvalidArgument, "unknown community status %q", status)
	}
	if status == model.CommunityDisabled && model.IsReservedCommunity(id) {
		return errs.Wrapf(errs.ErrInvalidArgument, "community %d is reserved", id)
	}
	if err := s.perm.RequireSuperAdmin(ctx, actor); err != nil {
		return err
	}
	return fromCtx(ctx, (&mysql.CommunityRepository{DB: s.db}).UpdateStatus(ctx, id, status))
}

// AddStaff manager 任命工作人员，已存在时改角色
func (s *CommunityService) AddStaff(ctx context.Context, actor, communityID, userID uint64, role int) error {
	if role != model.StaffRoleStaff && role != model.StaffRoleManager {
		return errs.Wrapf(errs.ErrInvalidArgument, "unknown staff role %d", role)
	}
	if err := s.perm.RequireManager(ctx, actor, communityID); err != nil {
		return err
	}
	if _, err := (&mysql.CommunityRepository{DB: s.db}).FindActive(ctx, communityID); err != nil {
		return fromCtx(ctx, err)
	}
	if _, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, userID); err != nil {
		return fromCtx(ctx, err)
	}
	return fromCtx(ctx, (&mysql.StaffRepository{DB: s.db}).Upsert(ctx, &model.CommunityStaff{
		CommunityID: communityID,
		UserID:      userID,
		Role:        role,
	}))
}

func (s *CommunityService) RemoveStaff(ctx context.Context, actor, communityID, userID uint64) error {
	if err := s.perm.RequireManager(ctx, actor, communityID); err != nil {
		return err
	}
	return fromCtx(ctx, (&mysql.StaffRepository{DB: s.db}).Remove(ctx, communityID, userID))
}

func (s *CommunityService) ListStaff(ctx context.Context, actor, communityID uint64) ([]model.CommunityStaff, error) {
	if err := s.perm.RequireStaff(ctx, actor, communityID); err != nil {
		return nil, err
	}
	list, err := (&mysql.StaffRepository{DB: s.db}).ListByCommunity(ctx, communityID)
	return list, fromCtx(ctx, err)
}

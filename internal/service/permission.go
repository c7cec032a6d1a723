package service

import (
	"context"

	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
)

// PermissionService 社区管理权限判定
type PermissionService struct {
	db *gorm.DB
}

func NewPermissionService(d *Deps) *PermissionService {
	return &PermissionService{db: d.DB}
}

// StaffHasPermission 超级管理员，或在该社区有工作人员身份
func (s *PermissionService) StaffHasPermission(ctx context.Context, actor, communityID uint64) (bool, error) {
	return s.hasRole(ctx, actor, communityID, model.StaffRoleStaff)
}

// IsManager 超级管理员或社区负责人
func (s *PermissionService) IsManager(ctx context.Context, actor, communityID uint64) (bool, error) {
	return s.hasRole(ctx, actor, communityID, model.StaffRoleManager)
}

func (s *PermissionService) IsSuperAdmin(ctx context.Context, actor uint64) (bool, error) {
	u, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, actor)
	if err != nil {
		return false, err
	}
	return u.IsSuperAdmin(), nil
}

func (s *PermissionService) hasRole(ctx context.Context, actor, communityID uint64, min int) (bool, error) {
	ok, err := s.IsSuperAdmin(ctx, actor)
	if err != nil || ok {
		return ok, err
	}
	role, err := (&mysql.StaffRepository{DB: s.db}).RoleOf(ctx, communityID, actor)
	if err != nil {
		return false, err
	}
	return role >= min, nil
}

// RequireStaff 没有权限时返回 ErrNotAuthorized
func (s *PermissionService) RequireStaff(ctx context.Context, actor, communityID uint64) error {
	ok, err := s.StaffHasPermission(ctx, actor, communityID)
	if err != nil {
		return fromCtx(ctx, err)
	}
	if !ok {
		return errs.Wrapf(errs.ErrNotAuthorized, "user %d is not staff of community %d", actor, communityID)
	}
	return nil
}

func (s *PermissionService) RequireManager(ctx context.Context, actor, communityID uint64) error {
	ok, err := s.IsManager(ctx, actor, communityID)
	if err != nil {
		return fromCtx(ctx, err)
	}
	if !ok {
		return errs.Wrapf(errs.ErrNotAuthorized, "user %d is not manager of community %d", actor, communityID)
	}
	return nil
}

func (s *PermissionService) RequireSuperAdmin(ctx context.Context, actor uint64) error {
	ok, err := s.IsSuperAdmin(ctx, actor)
	if err != nil {
		return fromCtx(ctx, err)
	}
	if !ok {
		return errs.Wrapf(errs.ErrNotAuthorized, "super admin only")
	}
	return nil
}

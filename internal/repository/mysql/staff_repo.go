package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Care_Community/internal/model"
)

type StaffRepository struct {
	DB *gorm.DB
}

// Upsert (community_id, user_id) 已存在时更新角色
func (r *StaffRepository) Upsert(ctx context.Context, s *model.CommunityStaff) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "community_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
	}).Create(s).Error
}

// Remove 幂等删除
func (r *StaffRepository) Remove(ctx context.Context, communityID, userID uint64) error {
	return r.DB.WithContext(ctx).Where("community_id = ? AND user_id = ?", communityID, userID).
		Delete(&model.CommunityStaff{}).Error
}

// RoleOf 不是工作人员时返回 0
func (r *StaffRepository) RoleOf(ctx context.Context, communityID, userID uint64) (int, error) {
	var s model.CommunityStaff
	err := r.DB.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return s.Role, nil
}

func (r *StaffRepository) ListByCommunity(ctx context.Context, communityID uint64) ([]model.CommunityStaff, error) {
	var list []model.CommunityStaff
	err := r.DB.WithContext(ctx).Where("community_id = ?", communityID).Order("role DESC, id ASC").Find(&list).Error
	return list, err
}

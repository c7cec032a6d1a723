package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Care_Community/internal/model"
)

type HelpRepository struct {
	DB *gorm.DB
}

func (r *HelpRepository) Create(ctx context.Context, h *model.HelpEvent) error {
	return r.DB.WithContext(ctx).Create(h).Error
}

func (r *HelpRepository) FindByID(ctx context.Context, id uint64) (*model.HelpEvent, error) {
	var h model.HelpEvent
	err := r.DB.WithContext(ctx).Where("id = ? AND status <> ?", id, model.HelpDeleted).First(&h).Error
	if err != nil {
		return nil, notFound(err, "help event %d", id)
	}
	return &h, nil
}

// ListByCommunityCursor 时间游标：(created_at, id) 严格小于上一页最后一条
func (r *HelpRepository) ListByCommunityCursor(ctx context.Context, communityID, lastID uint64, lastCreatedAt time.Time, limit int) ([]model.HelpEvent, error) {
	var list []model.HelpEvent
	q := r.DB.WithContext(ctx).Where("community_id = ? AND status <> ?", communityID, model.HelpDeleted)
	if lastID > 0 {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", lastCreatedAt, lastCreatedAt, lastID)
	}
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&list).Error
	return list, err
}

// DeleteWithPermission 作者或社区工作人员才能删除；已删除时幂等返回 0
func (r *HelpRepository) DeleteWithPermission(ctx context.Context, helpID, operatorID uint64) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.HelpEvent{}).
		Where("id = ? AND status <> ?", helpID, model.HelpDeleted).
		Where(`(author_id = ? OR EXISTS (
			SELECT 1 FROM community_staff m
			WHERE m.community_id = help_events.community_id AND m.user_id = ? AND m.role >= ?))`,
			operatorID, operatorID, model.StaffRoleStaff).
		Update("status", model.HelpDeleted)
	return res.RowsAffected, res.Error
}

// ForceDelete 超级管理员删除
func (r *HelpRepository) ForceDelete(ctx context.Context, helpID uint64) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.HelpEvent{}).
		Where("id = ? AND status <> ?", helpID, model.HelpDeleted).
		Update("status", model.HelpDeleted)
	return res.RowsAffected, res.Error
}

func (r *HelpRepository) Resolve(ctx context.Context, helpID, authorID uint64) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.HelpEvent{}).
		Where("id = ? AND author_id = ? AND status = ?", helpID, authorID, model.HelpOpen).
		Update("status", model.HelpResolved)
	return res.RowsAffected, res.Error
}

// Support 唯一 (user_id, help_id) 幂等插入，新插入时计数 +1
func (r *HelpRepository) Support(ctx context.Context, userID, helpID uint64) (bool, error) {
	var changed bool
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "help_id"}},
			DoNothing: true,
		}).Create(&model.HelpSupport{UserID: userID, HelpID: helpID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true
		return tx.Model(&model.HelpEvent{}).Where("id = ?", helpID).
			UpdateColumn("support_count", gorm.Expr("support_count + 1")).Error
	})
	return changed, err
}

// Unsupport 未删除任何行时幂等
func (r *HelpRepository) Unsupport(ctx context.Context, userID, helpID uint64) (bool, error) {
	var changed bool
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND help_id = ?", userID, helpID).Delete(&model.HelpSupport{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true
		return tx.Model(&model.HelpEvent{}).Where("id = ?", helpID).
			UpdateColumn("support_count", gorm.Expr("CASE WHEN support_count > 0 THEN support_count - 1 ELSE 0 END")).Error
	})
	return changed, err
}

func (r *HelpRepository) IsSupported(ctx context.Context, userID, helpID uint64) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.HelpSupport{}).
		Where("user_id = ? AND help_id = ?", userID, helpID).
		Count(&count).Error
	return count > 0, err
}

func (r *HelpRepository) SupportCount(ctx context.Context, helpID uint64) (int64, error) {
	var h model.HelpEvent
	err := r.DB.WithContext(ctx).Select("id", "support_count").First(&h, helpID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, notFound(err, "help event %d", helpID)
	}
	return h.SupportCount, err
}

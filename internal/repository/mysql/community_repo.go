package mysql

import (
	"context"

	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
)

type CommunityRepository struct {
	DB *gorm.DB
}

// Create 创建社区，同时让创建者成为 manager
func (r *CommunityRepository) Create(ctx context.Context, c *model.Community) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		staff := &StaffRepository{DB: tx}
		return staff.Upsert(ctx, &model.CommunityStaff{
			CommunityID: c.ID,
			UserID:      c.CreatorID,
			Role:        model.StaffRoleManager,
		})
	})
}

func (r *CommunityRepository) FindByID(ctx context.Context, id uint64) (*model.Community, error) {
	var community model.Community
	if err := r.DB.WithContext(ctx).First(&community, id).Error; err != nil {
		return nil, notFound(err, "community %d", id)
	}
	return &community, nil
}

// FindActive 社区必须存在且未停用
func (r *CommunityRepository) FindActive(ctx context.Context, id uint64) (*model.Community, error) {
	c, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CommunityActive {
		return nil, errs.Wrapf(errs.ErrNotFound, "community %d disabled", id)
	}
	return c, nil
}

func (r *CommunityRepository) List(ctx context.Context, offset, limit int) ([]model.Community, error) {
	var list []model.Community
	err := r.DB.WithContext(ctx).Order("id desc").Offset(offset).Limit(limit).Find(&list).Error
	return list, err
}

func (r *CommunityRepository) UpdateStatus(ctx context.Context, id uint64, status model.CommunityStatus) error {
	res := r.DB.WithContext(ctx).Model(&model.Community{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.Wrapf(errs.ErrNotFound, "community %d", id)
	}
	return nil
}

package mysql

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Care_Community/internal/model"
)

type CommunityRuleRepository struct {
	DB *gorm.DB
}

func (r *CommunityRuleRepository) Create(ctx context.Context, rule *model.CommunityRule) error {
	return r.DB.WithContext(ctx).Create(rule).Error
}

// FindByID 已删除的规则视为不存在
func (r *CommunityRuleRepository) FindByID(ctx context.Context, id uint64) (*model.CommunityRule, error) {
	var rule model.CommunityRule
	err := r.DB.WithContext(ctx).Where("id = ? AND status <> ?", id, model.CommunityRuleDeleted).First(&rule).Error
	if err != nil {
		return nil, notFound(err, "community rule %d", id)
	}
	return &rule, nil
}

// LockByID 启用/停用/补齐下发都在规则行锁下进行
func (r *CommunityRuleRepository) LockByID(ctx context.Context, id uint64) (*model.CommunityRule, error) {
	var rule model.CommunityRule
	err := r.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND status <> ?", id, model.CommunityRuleDeleted).First(&rule).Error
	if err != nil {
		return nil, notFound(err, "community rule %d", id)
	}
	return &rule, nil
}

// Update 按主键写回变更字段，调用方已在行锁下确认存在
func (r *CommunityRuleRepository) Update(ctx context.Context, id uint64, fields map[string]any) error {
	return r.DB.WithContext(ctx).Model(&model.CommunityRule{}).Where("id = ?", id).Updates(fields).Error
}

// List 永远不含已删除；includeDraft 为 false 时只返回启用中的
func (r *CommunityRuleRepository) List(ctx context.Context, communityID uint64, includeDraft bool) ([]model.CommunityRule, error) {
	q := r.DB.WithContext(ctx).Where("community_id = ?", communityID)
	if includeDraft {
		q = q.Where("status IN ?", []model.CommunityRuleStatus{model.CommunityRuleDraft, model.CommunityRuleEnabled})
	} else {
		q = q.Where("status = ?", model.CommunityRuleEnabled)
	}
	var list []model.CommunityRule
	err := q.Order("id ASC").Find(&list).Error
	return list, err
}

func (r *CommunityRuleRepository) EnabledIDs(ctx context.Context, communityID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.DB.WithContext(ctx).Model(&model.CommunityRule{}).
		Where("community_id = ? AND status = ?", communityID, model.CommunityRuleEnabled).
		Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

// FanoutPending 等待后台补齐下发的规则
func (r *CommunityRuleRepository) FanoutPending(ctx context.Context, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.DB.WithContext(ctx).Model(&model.CommunityRule{}).
		Where("fanout_pending = ? AND status = ?", true, model.CommunityRuleEnabled).
		Order("id ASC").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

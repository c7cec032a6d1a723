package mysql

import (
	"context"

	"gorm.io/gorm"

	"Care_Community/internal/model"
)

// RuleRepository 个人规则
type RuleRepository struct {
	DB *gorm.DB
}

func (r *RuleRepository) Create(ctx context.Context, rule *model.Rule) error {
	return r.DB.WithContext(ctx).Create(rule).Error
}

// FindByID 含已删除的规则，调用方自己判断状态
func (r *RuleRepository) FindByID(ctx context.Context, id uint64) (*model.Rule, error) {
	var rule model.Rule
	if err := r.DB.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, notFound(err, "rule %d", id)
	}
	return &rule, nil
}

// FindActive 已删除的规则对所有读路径不可见
func (r *RuleRepository) FindActive(ctx context.Context, id uint64) (*model.Rule, error) {
	var rule model.Rule
	err := r.DB.WithContext(ctx).Where("id = ? AND status = ?", id, model.RuleActive).First(&rule).Error
	if err != nil {
		return nil, notFound(err, "rule %d", id)
	}
	return &rule, nil
}

// UpdateSchedule 只更新未删除的规则，返回是否命中
func (r *RuleRepository) UpdateSchedule(ctx context.Context, id, owner uint64, name, icon string, s model.RuleSchedule) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.Rule{}).
		Where("id = ? AND user_id = ? AND status = ?", id, owner, model.RuleActive).
		Updates(map[string]any{
			"rule_name":         name,
			"icon":              icon,
			"frequency_type":    s.FrequencyType,
			"time_slot_type":    s.TimeSlotType,
			"custom_time":       s.CustomTime,
			"week_days_bitmask": s.WeekDaysBitmask,
			"custom_start_date": s.CustomStartDate,
			"custom_end_date":   s.CustomEndDate,
		})
	return res.RowsAffected > 0, res.Error
}

// SoftDelete 软删除，已删除的不再命中
func (r *RuleRepository) SoftDelete(ctx context.Context, id, owner uint64) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.Rule{}).
		Where("id = ? AND user_id = ? AND status = ?", id, owner, model.RuleActive).
		Update("status", model.RuleDeleted)
	return res.RowsAffected > 0, res.Error
}

func (r *RuleRepository) ListActiveFor(ctx context.Context, owner uint64) ([]model.Rule, error) {
	var list []model.Rule
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND status = ?", owner, model.RuleActive).
		Order("id ASC").Find(&list).Error
	return list, err
}

// OwnedActiveIDs 过滤出 ids 中属于 owner 且未删除的规则
func (r *RuleRepository) OwnedActiveIDs(ctx context.Context, owner uint64, ids []uint64) ([]uint64, error) {
	var out []uint64
	if len(ids) == 0 {
		return out, nil
	}
	err := r.DB.WithContext(ctx).Model(&model.Rule{}).
		Where("user_id = ? AND status = ? AND id IN ?", owner, model.RuleActive, ids).
		Order("id ASC").Pluck("id", &out).Error
	return out, err
}

package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Care_Community/internal/model"
)

// ActivationRepository 用户 x 社区规则激活表
type ActivationRepository struct {
	DB *gorm.DB
}

var activationKey = []clause.Column{{Name: "user_id"}, {Name: "community_rule_id"}}

// Activate 幂等 upsert，冲突时置 is_active=true
func (r *ActivationRepository) Activate(ctx context.Context, userID, ruleID uint64) error {
	return r.ActivateMany(ctx, []uint64{userID}, ruleID)
}

// ActivateMany 一批用户激活同一条规则
func (r *ActivationRepository) ActivateMany(ctx context.Context, userIDs []uint64, ruleID uint64) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]model.UserCommunityRule, 0, len(userIDs))
	for _, uid := range userIDs {
		rows = append(rows, model.UserCommunityRule{UserID: uid, CommunityRuleID: ruleID, IsActive: true})
	}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   activationKey,
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "updated_at"}),
	}).Create(&rows).Error
}

// ActivateRules 一个用户激活多条规则，成员迁入社区时使用
func (r *ActivationRepository) ActivateRules(ctx context.Context, userID uint64, ruleIDs []uint64) error {
	if len(ruleIDs) == 0 {
		return nil
	}
	rows := make([]model.UserCommunityRule, 0, len(ruleIDs))
	for _, rid := range ruleIDs {
		rows = append(rows, model.UserCommunityRule{UserID: userID, CommunityRuleID: rid, IsActive: true})
	}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   activationKey,
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "updated_at"}),
	}).Create(&rows).Error
}

// Set 工作人员单独开关某个成员，行不存在时也写入，停用状态因此不会被补缺覆盖
func (r *ActivationRepository) Set(ctx context.Context, userID, ruleID uint64, active bool) error {
	row := model.UserCommunityRule{UserID: userID, CommunityRuleID: ruleID, IsActive: active}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   activationKey,
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "updated_at"}),
	}).Create(&row).Error
}

// InsertMissing 只补缺失的行，已有的（包括被停用的）保持不动
func (r *ActivationRepository) InsertMissing(ctx context.Context, userID uint64, ruleIDs []uint64) error {
	if len(ruleIDs) == 0 {
		return nil
	}
	rows := make([]model.UserCommunityRule, 0, len(ruleIDs))
	for _, rid := range ruleIDs {
		rows = append(rows, model.UserCommunityRule{UserID: userID, CommunityRuleID: rid, IsActive: true})
	}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   activationKey,
		DoNothing: true,
	}).Create(&rows).Error
}

// Deactivate 行不存在时什么也不做
func (r *ActivationRepository) Deactivate(ctx context.Context, userID uint64, ruleIDs ...uint64) error {
	if len(ruleIDs) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Model(&model.UserCommunityRule{}).
		Where("user_id = ? AND community_rule_id IN ? AND is_active = ?", userID, ruleIDs, true).
		Update("is_active", false).Error
}

// DeactivateRule 停用一条规则的全部激活
func (r *ActivationRepository) DeactivateRule(ctx context.Context, ruleID uint64) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.UserCommunityRule{}).
		Where("community_rule_id = ? AND is_active = ?", ruleID, true).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

// Find 不存在返回 nil, nil
func (r *ActivationRepository) Find(ctx context.Context, userID, ruleID uint64) (*model.UserCommunityRule, error) {
	var m model.UserCommunityRule
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND community_rule_id = ?", userID, ruleID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ActiveCommunityRule 带激活时间的社区规则，激活时间取映射行最后一次更新
type ActiveCommunityRule struct {
	model.CommunityRule
	ActivatedAt time.Time
}

// ActiveRulesFor 激活、规则处于 enabled 且属于用户当前社区的社区规则。
// 旧社区遗留的激活行不会出现在结果里
func (r *ActivationRepository) ActiveRulesFor(ctx context.Context, userID uint64) ([]ActiveCommunityRule, error) {
	var list []ActiveCommunityRule
	err := r.DB.WithContext(ctx).Model(&model.CommunityRule{}).
		Select("community_checkin_rules.*, m.updated_at AS activated_at").
		Joins("JOIN user_community_rules m ON m.community_rule_id = community_checkin_rules.id").
		Joins("JOIN users u ON u.id = m.user_id AND u.community_id = community_checkin_rules.community_id").
		Where("m.user_id = ? AND m.is_active = ? AND community_checkin_rules.status = ?", userID, true, model.CommunityRuleEnabled).
		Order("community_checkin_rules.id ASC").
		Find(&list).Error
	return list, err
}

// MissingEnabled 社区中已启用、但该用户还没有映射行的规则
func (r *ActivationRepository) MissingEnabled(ctx context.Context, userID, communityID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.DB.WithContext(ctx).Model(&model.CommunityRule{}).
		Where("community_id = ? AND status = ?", communityID, model.CommunityRuleEnabled).
		Where("NOT EXISTS (SELECT 1 FROM user_community_rules m WHERE m.community_rule_id = community_checkin_rules.id AND m.user_id = ?)", userID).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// UsersOf 规则当前激活的用户，按 id 游标
func (r *ActivationRepository) UsersOf(ctx context.Context, ruleID, lastUserID uint64, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.DB.WithContext(ctx).Model(&model.UserCommunityRule{}).
		Where("community_rule_id = ? AND is_active = ? AND user_id > ?", ruleID, true, lastUserID).
		Order("user_id ASC").Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}

package mysql

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Care_Community/internal/model"
)

type SupervisionRepository struct {
	DB *gorm.DB
}

func (r *SupervisionRepository) CreateBatch(ctx context.Context, rels []model.SupervisionRelation) error {
	if len(rels) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Create(&rels).Error
}

func (r *SupervisionRepository) LockByID(ctx context.Context, id uint64) (*model.SupervisionRelation, error) {
	var rel model.SupervisionRelation
	err := r.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&rel, id).Error
	if err != nil {
		return nil, notFound(err, "relation %d", id)
	}
	return &rel, nil
}

func (r *SupervisionRepository) FindByID(ctx context.Context, id uint64) (*model.SupervisionRelation, error) {
	var rel model.SupervisionRelation
	if err := r.DB.WithContext(ctx).First(&rel, id).Error; err != nil {
		return nil, notFound(err, "relation %d", id)
	}
	return &rel, nil
}

// ByToken 一条链接对应的全部关系
func (r *SupervisionRepository) ByToken(ctx context.Context, token string) ([]model.SupervisionRelation, error) {
	var list []model.SupervisionRelation
	err := r.DB.WithContext(ctx).Where("invite_token = ?", token).Order("id ASC").Find(&list).Error
	return list, err
}

// BindToken 比较并设置：只有尚未绑定、未过期的待处理关系会被绑定到 supervisor
func (r *SupervisionRepository) BindToken(ctx context.Context, token string, supervisor uint64, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.SupervisionRelation{}).
		Where("invite_token = ? AND supervisor_user_id IS NULL AND status = ?", token, model.RelationPending).
		Where("(invite_expires_at IS NULL OR invite_expires_at > ?)", now).
		Update("supervisor_user_id", supervisor)
	return res.RowsAffected, res.Error
}

// SetStatus 以旧状态为条件更新
func (r *SupervisionRepository) SetStatus(ctx context.Context, id uint64, from, to model.RelationStatus) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.SupervisionRelation{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}

// Existing 同一被监督人、规则、监督人下仍有效（pending/accepted）的关系
func (r *SupervisionRepository) Existing(ctx context.Context, target uint64, ruleID *uint64, supervisor uint64) (*model.SupervisionRelation, error) {
	q := r.DB.WithContext(ctx).
		Where("target_user_id = ? AND supervisor_user_id = ? AND status IN ?", target, supervisor,
			[]model.RelationStatus{model.RelationPending, model.RelationAccepted})
	if ruleID == nil {
		q = q.Where("rule_id IS NULL")
	} else {
		q = q.Where("rule_id = ?", *ruleID)
	}
	var list []model.SupervisionRelation
	if err := q.Order("id ASC").Limit(1).Find(&list).Error; err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// Accepted supervisor 对 target 的全部已接受关系
func (r *SupervisionRepository) Accepted(ctx context.Context, supervisor, target uint64) ([]model.SupervisionRelation, error) {
	var list []model.SupervisionRelation
	err := r.DB.WithContext(ctx).
		Where("supervisor_user_id = ? AND target_user_id = ? AND status = ?", supervisor, target, model.RelationAccepted).
		Order("id ASC").Find(&list).Error
	return list, err
}

// Incoming 我作为监督人收到的关系
func (r *SupervisionRepository) Incoming(ctx context.Context, supervisor uint64, status []model.RelationStatus) ([]model.SupervisionRelation, error) {
	q := r.DB.WithContext(ctx).Where("supervisor_user_id = ?", supervisor)
	if len(status) > 0 {
		q = q.Where("status IN ?", status)
	}
	var list []model.SupervisionRelation
	err := q.Order("id DESC").Find(&list).Error
	return list, err
}

// Outgoing 我发出的邀请
func (r *SupervisionRepository) Outgoing(ctx context.Context, target uint64, status []model.RelationStatus) ([]model.SupervisionRelation, error) {
	q := r.DB.WithContext(ctx).Where("target_user_id = ?", target)
	if len(status) > 0 {
		q = q.Where("status IN ?", status)
	}
	var list []model.SupervisionRelation
	err := q.Order("id DESC").Find(&list).Error
	return list, err
}

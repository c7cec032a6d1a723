package mysql

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"Care_Community/internal/model"
)

type OutboxRepository struct {
	DB *gorm.DB
}

// Event 待投递事件
type Event struct {
	Type        string
	AggregateID uint64
	UserID      uint64
	Data        map[string]any
}

// Insert 必须在业务事务内调用
func (r *OutboxRepository) Insert(ctx context.Context, ev Event) error {
	body := map[string]any{
		"type":         ev.Type,
		"aggregate_id": ev.AggregateID,
		"user_id":      ev.UserID,
	}
	for k, v := range ev.Data {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return r.DB.WithContext(ctx).Create(&model.CareOutbox{
		EventType:   ev.Type,
		AggregateID: ev.AggregateID,
		UserID:      ev.UserID,
		Payload:     string(payload),
		Status:      model.OutboxPending,
	}).Error
}

// List 待投递和失败待重试的事件，maxRetry 之后不再取
func (r *OutboxRepository) List(ctx context.Context, batchSize, maxRetry int) ([]model.CareOutbox, error) {
	var list []model.CareOutbox
	err := r.DB.WithContext(ctx).
		Where("status = ? OR (status = ? AND retry < ?)", model.OutboxPending, model.OutboxFailed, maxRetry).
		Order("id ASC").
		Limit(batchSize).
		Find(&list).Error
	return list, err
}

// RetryUpdate 投递失败，重试计数 +1
func (r *OutboxRepository) RetryUpdate(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&model.CareOutbox{}).Where("id = ?", id).
		Updates(map[string]any{"status": model.OutboxFailed, "retry": gorm.Expr("retry + 1")}).Error
}

func (r *OutboxRepository) SuccessUpdate(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&model.CareOutbox{}).Where("id = ?", id).
		Update("status", model.OutboxSent).Error
}

package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Care_Community/internal/model"
)

// SlotKey 记录唯一键 (owner, source, rule, planned_key)
type SlotKey struct {
	OwnerID    uint64
	Source     model.RuleSource
	RuleID     uint64
	PlannedKey string
}

type CheckinRepository struct {
	DB *gorm.DB
}

// FindLiveForUpdate 锁住该时段未撤销的记录，不存在返回 nil, nil
func (r *CheckinRepository) FindLiveForUpdate(ctx context.Context, k SlotKey) (*model.CheckinRecord, error) {
	var rec model.CheckinRecord
	err := r.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ? AND rule_source = ? AND rule_id = ? AND planned_key = ? AND live = ?",
			k.OwnerID, k.Source, k.RuleID, k.PlannedKey, 1).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert 唯一索引冲突说明并发写入了同一时段，由上层重试
func (r *CheckinRepository) Insert(ctx context.Context, rec *model.CheckinRecord) error {
	rec.Live = model.Live(rec.Status)
	return r.DB.WithContext(ctx).Create(rec).Error
}

// Transition 以旧状态做条件更新，返回是否命中
func (r *CheckinRepository) Transition(ctx context.Context, rec *model.CheckinRecord, to model.RecordStatus) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.CheckinRecord{}).
		Where("id = ? AND status = ?", rec.ID, rec.Status).
		Updates(map[string]any{
			"status":       to,
			"live":         model.Live(to),
			"checkin_time": rec.CheckinTime,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	rec.Status = to
	rec.Live = model.Live(to)
	return true, nil
}

func (r *CheckinRepository) FindByID(ctx context.Context, id uint64) (*model.CheckinRecord, error) {
	var rec model.CheckinRecord
	if err := r.DB.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err, "record %d", id)
	}
	return &rec, nil
}

func (r *CheckinRepository) LockByID(ctx context.Context, id uint64) (*model.CheckinRecord, error) {
	var rec model.CheckinRecord
	err := r.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, id).Error
	if err != nil {
		return nil, notFound(err, "record %d", id)
	}
	return &rec, nil
}

// LiveInRange owner 在 [fromKey, toKey] 内未撤销的记录
func (r *CheckinRepository) LiveInRange(ctx context.Context, owner uint64, fromKey, toKey string) ([]model.CheckinRecord, error) {
	var list []model.CheckinRecord
	err := r.DB.WithContext(ctx).
		Where("owner_id = ? AND live = ? AND planned_key BETWEEN ? AND ?", owner, 1, fromKey, toKey).
		Order("planned_key ASC, id ASC").
		Find(&list).Error
	return list, err
}

// HistoryFilter 历史查询条件。RuleIDs 非空时只看这些个人规则，Community 决定是否包含社区规则
type HistoryFilter struct {
	OwnerID   uint64
	FromKey   string
	ToKey     string
	Personal  bool
	RuleIDs   []uint64
	Community bool
}

// History 分页查询记录。被同一时段更新记录取代的 cancelled 记录不返回
func (r *CheckinRepository) History(ctx context.Context, f HistoryFilter, offset, limit int) ([]model.CheckinRecord, int64, error) {
	q := r.DB.WithContext(ctx).Model(&model.CheckinRecord{}).
		Where("owner_id = ? AND planned_key BETWEEN ? AND ?", f.OwnerID, f.FromKey, f.ToKey).
		Where(`NOT (status = ? AND EXISTS (
			SELECT 1 FROM checkin_records n
			WHERE n.owner_id = checkin_records.owner_id AND n.rule_source = checkin_records.rule_source
			  AND n.rule_id = checkin_records.rule_id AND n.planned_key = checkin_records.planned_key
			  AND n.id > checkin_records.id))`, model.RecordCancelled)

	switch {
	case f.Personal && f.Community && len(f.RuleIDs) == 0:
	case f.Personal && len(f.RuleIDs) == 0:
		q = q.Where("rule_source = ?", model.SourcePersonal)
	case f.Personal && f.Community:
		q = q.Where("((rule_source = ? AND rule_id IN ?) OR rule_source = ?)", model.SourcePersonal, f.RuleIDs, model.SourceCommunity)
	case f.Personal:
		q = q.Where("rule_source = ? AND rule_id IN ?", model.SourcePersonal, f.RuleIDs)
	case f.Community:
		q = q.Where("rule_source = ?", model.SourceCommunity)
	default:
		return nil, 0, nil
	}

	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []model.CheckinRecord
	err := q.Order("planned_key DESC, id DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

// ByRuleAndDate 某条规则某天的全部记录（含已撤销），按创建先后
func (r *CheckinRepository) ByRuleAndDate(ctx context.Context, owner uint64, source model.RuleSource, ruleID uint64, fromKey, toKey string) ([]model.CheckinRecord, error) {
	var list []model.CheckinRecord
	err := r.DB.WithContext(ctx).
		Where("owner_id = ? AND rule_source = ? AND rule_id = ? AND planned_key BETWEEN ? AND ?",
			owner, source, ruleID, fromKey, toKey).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// DueUnchecked 计划时间不晚于 cutoffKey 的 unchecked 记录，按 id 游标
func (r *CheckinRepository) DueUnchecked(ctx context.Context, cutoffKey string, lastID uint64, limit int) ([]model.CheckinRecord, error) {
	var list []model.CheckinRecord
	err := r.DB.WithContext(ctx).
		Where("status = ? AND planned_key <= ? AND id > ?", model.RecordUnchecked, cutoffKey, lastID).
		Order("id ASC").Limit(limit).
		Find(&list).Error
	return list, err
}

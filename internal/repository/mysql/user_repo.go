package mysql

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Care_Community/internal/model"
)

type UserRepository struct {
	DB *gorm.DB
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.DB.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := r.DB.WithContext(ctx).Where("username = ? OR email = ?", username, username).First(&user).Error
	if err != nil {
		return nil, notFound(err, "user %s", username)
	}
	return &user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*model.User, error) {
	var user model.User
	if err := r.DB.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &user, nil
}

// LockByID select for update，用户换社区按用户行串行
func (r *UserRepository) LockByID(ctx context.Context, id uint64) (*model.User, error) {
	var user model.User
	err := r.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, id).Error
	if err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &user, nil
}

func (r *UserRepository) UpdateCommunity(ctx context.Context, id uint64, communityID *uint64) error {
	return r.DB.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Update("community_id", communityID).Error
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uint64, hashed string) error {
	return r.DB.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Update("password", hashed).Error
}

// LockMemberIDs 按 id 游标分批取社区成员，读到的用户行加共享锁。
// 与换社区时的用户行排它锁互斥，读到的成员在事务提交前不会迁走
func (r *UserRepository) LockMemberIDs(ctx context.Context, communityID, lastID uint64, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.DB.WithContext(ctx).Model(&model.User{}).
		Clauses(clause.Locking{Strength: "SHARE"}).
		Where("community_id = ? AND id > ?", communityID, lastID).
		Order("id ASC").Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *UserRepository) CountMembers(ctx context.Context, communityID uint64) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.User{}).Where("community_id = ?", communityID).Count(&n).Error
	return n, err
}

// ListMembers 社区成员分页
func (r *UserRepository) ListMembers(ctx context.Context, communityID uint64, offset, limit int) ([]model.User, int64, error) {
	var (
		list  []model.User
		total int64
	)
	q := r.DB.WithContext(ctx).Model(&model.User{}).Where("community_id = ?", communityID).Session(&gorm.Session{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("id ASC").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

// IDsAfter 全量用户游标，巡检用
func (r *UserRepository) IDsAfter(ctx context.Context, lastID uint64, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.DB.WithContext(ctx).Model(&model.User{}).
		Where("id > ?", lastID).Order("id ASC").Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

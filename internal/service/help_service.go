package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
)

// SupportCache 支持数缓存，数据库为准
type SupportCache interface {
	Get(ctx context.Context, helpID uint64) (int64, bool, error)
	Set(ctx context.Context, helpID uint64, cnt int64) error
	Invalidate(ctx context.Context, helpID uint64, delay time.Duration) error
}

// supportInvalidateDelay 延迟双删的间隔
const supportInvalidateDelay = 500 * time.Millisecond

// HelpService 社区求助与邻里支持
type HelpService struct {
	db    *gorm.DB
	log   *slog.Logger
	perm  *PermissionService
	cache SupportCache
}

func NewHelpService(d *Deps, perm *PermissionService, cache SupportCache) *HelpService {
	return &HelpService{db: d.DB, log: d.logger(), perm: perm, cache: cache}
}

// HelpPage 游标分页结果，NextID 为 0 表示没有下一页
type HelpPage struct {
	Items         []model.HelpEvent `json:"items"`
	NextID        uint64            `json:"next_id"`
	NextCreatedAt int64             `json:"next_created_at"`
}

// Create 发布在作者当前所在的社区
func (s *HelpService) Create(ctx context.Context, actor uint64, title, content string) (*model.HelpEvent, error) {
	title = strings.TrimSpace(title)
	if title == "" || len([]rune(title)) > 200 {
		return nil, errs.Wrapf(errs.ErrInvalidArgument, "title must be 1-200 characters")
	}
	u, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, actor)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	if u.CommunityID == nil || *u.CommunityID == model.SandboxCommunityID {
		return nil, errs.Wrapf(errs.ErrNotAuthorized, "user %d is not in a community", actor)
	}
	h := &model.HelpEvent{
		CommunityID: *u.CommunityID,
		AuthorID:    actor,
		Title:       title,
		Content:     content,
		Status:      model.HelpOpen,
	}
	if err := (&mysql.HelpRepository{DB: s.db}).Create(ctx, h); err != nil {
		return nil, fromCtx(ctx, err)
	}
	return h, nil
}

// canView 社区成员或工作人员
func (s *HelpService) canView(ctx context.Context, actor, communityID uint64) error {
	u, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, actor)
	if err != nil {
		return fromCtx(ctx, err)
	}
	if u.InCommunity(communityID) {
		return nil
	}
	return s.perm.RequireStaff(ctx, actor, communityID)
}

// ListByCommunityCursor 首次不传游标；lastCreatedAt 为上一页最后一条的 UnixMicro
func (s *HelpService) ListByCommunityCursor(ctx context.Context, actor, communityID, lastID uint64, lastCreatedAt int64, size int) (*HelpPage, error) {
	if err := s.canView(ctx, actor, communityID); err != nil {
		return nil, err
	}
	if size <= 0 || size > 50 {
		size = 20
	}
	list, err := (&mysql.HelpRepository{DB: s.db}).ListByCommunityCursor(ctx, communityID, lastID, time.UnixMicro(lastCreatedAt), size)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	page := &HelpPage{Items: list}
	if page.Items == nil {
		page.Items = []model.HelpEvent{}
	}
	if len(list) == size {
		last := list[len(list)-1]
		page.NextID = last.ID
		page.NextCreatedAt = last.CreatedAt.UnixMicro()
	}
	return page, nil
}

// Delete 幂等删除：已删除返回 nil，无权限报错
func (s *HelpService) Delete(ctx context.Context, actor, helpID uint64) error {
	repo := &mysql.HelpRepository{DB: s.db}
	admin, err := s.perm.IsSuperAdmin(ctx, actor)
	if err != nil {
		return fromCtx(ctx, err)
	}
	var affected int64
	if admin {
		affected, err = repo.ForceDelete(ctx, helpID)
	} else {
		affected, err = repo.DeleteWithPermission(ctx, helpID, actor)
	}
	if err != nil {
		return fromCtx(ctx, err)
	}
	if affected == 0 {
		if _, err := repo.FindByID(ctx, helpID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil
			}
			return fromCtx(ctx, err)
		}
		return errs.Wrapf(errs.ErrNotAuthorized, "cannot delete help event %d", helpID)
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, helpID, 0)
	}
	return nil
}

// Resolve 作者标记已解决，重复调用幂等
func (s *HelpService) Resolve(ctx context.Context, actor, helpID uint64) error {
	repo := &mysql.HelpRepository{DB: s.db}
	affected, err := repo.Resolve(ctx, helpID, actor)
	if err != nil {
		return fromCtx(ctx, err)
	}
	if affected > 0 {
		return nil
	}
	h, err := repo.FindByID(ctx, helpID)
	if err != nil {
		return fromCtx(ctx, err)
	}
	if h.AuthorID != actor {
		return errs.Wrapf(errs.ErrNotAuthorized, "help event %d belongs to another user", helpID)
	}
	return nil
}

func (s *HelpService) openEvent(ctx context.Context, actor, helpID uint64) error {
	h, err := (&mysql.HelpRepository{DB: s.db}).FindByID(ctx, helpID)
	if err != nil {
		return fromCtx(ctx, err)
	}
	return s.canView(ctx, actor, h.CommunityID)
}

// Support 先写库再删缓存，读侧回填
func (s *HelpService) Support(ctx context.Context, actor, helpID uint64) (bool, error) {
	if err := s.openEvent(ctx, actor, helpID); err != nil {
		return false, err
	}
	changed, err := (&mysql.HelpRepository{DB: s.db}).Support(ctx, actor, helpID)
	if err != nil {
		return false, fromCtx(ctx, err)
	}
	if changed {
		s.invalidate(ctx, helpID)
	}
	return changed, nil
}

func (s *HelpService) Unsupport(ctx context.Context, actor, helpID uint64) (bool, error) {
	if err := s.openEvent(ctx, actor, helpID); err != nil {
		return false, err
	}
	changed, err := (&mysql.HelpRepository{DB: s.db}).Unsupport(ctx, actor, helpID)
	if err != nil {
		return false, fromCtx(ctx, err)
	}
	if changed {
		s.invalidate(ctx, helpID)
	}
	return changed, nil
}

func (s *HelpService) invalidate(ctx context.Context, helpID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, helpID, supportInvalidateDelay); err != nil {
		s.log.WarnContext(ctx, "support cache invalidate failed", "help_id", helpID, "err", err)
	}
}

func (s *HelpService) IsSupported(ctx context.Context, actor, helpID uint64) (bool, error) {
	ok, err := (&mysql.HelpRepository{DB: s.db}).IsSupported(ctx, actor, helpID)
	return ok, fromCtx(ctx, err)
}

// SupportCount 缓存优先，未命中回源数据库
func (s *HelpService) SupportCount(ctx context.Context, helpID uint64) (int64, error) {
	if s.cache != nil {
		if v, ok, err := s.cache.Get(ctx, helpID); err == nil && ok {
			return v, nil
		}
	}
	v, err := (&mysql.HelpRepository{DB: s.db}).SupportCount(ctx, helpID)
	if err != nil {
		return 0, fromCtx(ctx, err)
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, helpID, v)
	}
	return v, nil
}

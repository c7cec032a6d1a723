package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/pkg"
	"Care_Community/internal/repository/mysql"
)

// TokenStore 保存每个用户当前有效的 access token，同一时间只允许一个会话
type TokenStore interface {
	Save(ctx context.Context, userID uint64, token string) error
	Get(ctx context.Context, userID uint64) (string, error)
	Extend(ctx context.Context, userID uint64) error
	Delete(ctx context.Context, userID uint64) error
}

type UserService struct {
	db         *gorm.DB
	log        *slog.Logger
	jwt        *pkg.JWTManager
	tokens     TokenStore
	membership *MembershipService
}

func NewUserService(d *Deps, jwt *pkg.JWTManager, tokens TokenStore, membership *MembershipService) *UserService {
	return &UserService{db: d.DB, log: d.logger(), jwt: jwt, tokens: tokens, membership: membership}
}

const (
	minPasswordLen = 6
	maxUsernameLen = 32
)

func validateCredentials(username, password string) error {
	if n := len(username); n < 3 || n > maxUsernameLen {
		return errs.Wrapf(errs.ErrInvalidArgument, "username must be 3-%d characters", maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return errs.Wrapf(errs.ErrInvalidArgument, "password must be at least %d characters", minPasswordLen)
	}
	return nil
}

// Register 注册后加入默认社区，并在同一事务里拿到默认社区已启用的规则
func (s *UserService) Register(ctx context.Context, username, password, email string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errs.Wrapf(errs.ErrInvalidArgument, "invalid email %q", email)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Username: username,
		Password: string(hash),
		Email:    email,
		Nickname: username,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := (&mysql.UserRepository{DB: tx}).Create(ctx, user); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errs.Wrapf(errs.ErrConflict, "username or email already registered")
			}
			return err
		}
		return s.membership.joinDefault(ctx, tx, user.ID)
	})
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	def := model.DefaultCommunityID
	user.CommunityID = &def
	s.log.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Login 签发新 token 并覆盖旧会话
func (s *UserService) Login(ctx context.Context, username, password string) (*pkg.Pair, error) {
	user, err := (&mysql.UserRepository{DB: s.db}).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.Wrapf(errs.ErrNotAuthorized, "invalid username or password")
		}
		return nil, fromCtx(ctx, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, errs.Wrapf(errs.ErrNotAuthorized, "invalid username or password")
	}
	return s.issue(ctx, user)
}

func (s *UserService) issue(ctx context.Context, user *model.User) (*pkg.Pair, error) {
	pair, err := s.jwt.GeneratePair(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Save(ctx, user.ID, pair.AccessToken); err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *UserService) Logout(ctx context.Context, userID uint64) error {
	return s.tokens.Delete(ctx, userID)
}

// Refresh 用 refresh token 换一对新 token
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*pkg.Pair, error) {
	claims, err := s.jwt.ParseRefresh(refreshToken)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrNotAuthorized, "%v", err)
	}
	user, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	return s.issue(ctx, user)
}

func (s *UserService) Me(ctx context.Context, userID uint64) (*model.User, error) {
	u, err := (&mysql.UserRepository{DB: s.db}).FindByID(ctx, userID)
	return u, fromCtx(ctx, err)
}

// ChangePassword 登录态修改密码，成功后需要重新登录
func (s *UserService) ChangePassword(ctx context.Context, userID uint64, oldPassword, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return errs.Wrapf(errs.ErrInvalidArgument, "password must be at least %d characters", minPasswordLen)
	}
	repo := &mysql.UserRepository{DB: s.db}
	user, err := repo.FindByID(ctx, userID)
	if err != nil {
		return fromCtx(ctx, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(oldPassword)) != nil {
		return errs.Wrapf(errs.ErrNotAuthorized, "old password is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := repo.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return fromCtx(ctx, err)
	}
	return s.Logout(ctx, userID)
}

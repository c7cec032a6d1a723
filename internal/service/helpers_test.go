package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"Care_Community/internal/config"
	"Care_Community/internal/model"
	"Care_Community/internal/pkg"
	"Care_Community/internal/repository/mysql"
	"Care_Community/internal/schedule"
)

// 测试统一用东八区，不依赖系统时区库
var cst = time.FixedZone("CST", 8*3600)

// 2026-10-12 是周一
const (
	monday    = "2026-10-12"
	tuesday   = "2026-10-13"
	wednesday = "2026-10-14"
)

func at(date, hm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hm, cst)
	if err != nil {
		panic(err)
	}
	return t
}

func day(date string) schedule.Date {
	d, err := schedule.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return d
}

type testEnv struct {
	db     *gorm.DB
	clock  *schedule.FixedClock
	svc    *Services
	tokens *memTokens
	locker *memLocker
}

type envOption func(d *Deps, in *Infra)

func withCare(fn func(c *config.CareConfig)) envOption {
	return func(d *Deps, _ *Infra) { fn(&d.Care) }
}

func withInfra(fn func(in *Infra)) envOption {
	return func(_ *Deps, in *Infra) { fn(in) }
}

func newEnv(t *testing.T, now time.Time, opts ...envOption) *testEnv {
	t.Helper()
	clock := schedule.NewFixedClock(now)
	db, err := mysql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), clock.Now)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, mysql.Migrate(db))

	d := &Deps{
		DB:    db,
		Clock: clock,
		Care:  config.Default().Care,
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	e := &testEnv{db: db, clock: clock, tokens: newMemTokens(), locker: &memLocker{}}
	in := Infra{
		JWT: &pkg.JWTManager{
			AccessSecret:  []byte("test-access"),
			RefreshSecret: []byte("test-refresh"),
			AccessTTL:     time.Hour,
			RefreshTTL:    24 * time.Hour,
			Now:           clock.Now,
		},
		Tokens: e.tokens,
		Locker: e.locker,
	}
	for _, o := range opts {
		o(d, &in)
	}
	e.svc = New(d, in)
	return e
}

func (e *testEnv) user(t *testing.T, name string, community *uint64) *model.User {
	t.Helper()
	u := &model.User{Username: name, Password: "x", Email: name + "@care.test", Nickname: name, CommunityID: community}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

func (e *testEnv) admin(t *testing.T) *model.User {
	t.Helper()
	u := &model.User{Username: "admin", Password: "x", Email: "admin@care.test", Role: model.RoleSuperAdmin}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

func (e *testEnv) community(t *testing.T, admin uint64, name string) *model.Community {
	t.Helper()
	c, err := e.svc.Communities.CreateCommunity(context.Background(), admin, name, "")
	require.NoError(t, err)
	return c
}

// enabledRule 建一条社区规则并启用
func (e *testEnv) enabledRule(t *testing.T, actor, communityID uint64, in RuleInput) *model.CommunityRule {
	t.Helper()
	ctx := context.Background()
	r, err := e.svc.CommunityRules.Create(ctx, actor, communityID, in)
	require.NoError(t, err)
	r, err = e.svc.CommunityRules.Enable(ctx, actor, r.ID)
	require.NoError(t, err)
	return r
}

func (e *testEnv) outboxTypes(t *testing.T) []string {
	t.Helper()
	var types []string
	require.NoError(t, e.db.Model(&model.CareOutbox{}).Order("id").Pluck("event_type", &types).Error)
	return types
}

func ruleNames(items []PlanItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.RuleName)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

type memTokens struct {
	mu sync.Mutex
	m  map[uint64]string
}

func newMemTokens() *memTokens { return &memTokens{m: map[uint64]string{}} }

func (s *memTokens) Save(_ context.Context, userID uint64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[userID] = token
	return nil
}

func (s *memTokens) Get(_ context.Context, userID uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[userID], nil
}

func (s *memTokens) Extend(context.Context, uint64) error { return nil }

func (s *memTokens) Delete(_ context.Context, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID)
	return nil
}

// memLocker held=true 模拟锁被其它实例持有，lost=true 模拟续期时锁已过期被抢
type memLocker struct {
	mu        sync.Mutex
	held      bool
	lost      bool
	acquired  int
	released  int
	refreshed int
	ttls      []time.Duration
}

func (l *memLocker) Acquire(_ context.Context, _, _ string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.acquired++
	l.ttls = append(l.ttls, ttl)
	return true, nil
}

func (l *memLocker) Refresh(_ context.Context, _, _ string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return false, nil
	}
	l.refreshed++
	l.ttls = append(l.ttls, ttl)
	return true, nil
}

func (l *memLocker) Release(context.Context, string, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

type sentInvite struct {
	email string
	token string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentInvite
	err  error
}

func (n *fakeNotifier) NotifyInvite(_ context.Context, _ *model.User, email, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentInvite{email: email, token: token})
	return n.err
}

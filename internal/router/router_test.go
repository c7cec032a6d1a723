package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Care_Community/internal/config"
	"Care_Community/internal/pkg"
	"Care_Community/internal/repository/mysql"
	"Care_Community/internal/schedule"
	"Care_Community/internal/service"
)

var cst = time.FixedZone("CST", 8*3600)

type memTokens struct {
	mu sync.Mutex
	m  map[uint64]string
}

func (s *memTokens) Save(_ context.Context, userID uint64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[userID] = token
	return nil
}

func (s *memTokens) Get(_ context.Context, userID uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.m[userID]
	if !ok {
		return "", fmt.Errorf("token not found")
	}
	return tok, nil
}

func (s *memTokens) Extend(context.Context, uint64) error { return nil }

func (s *memTokens) Delete(_ context.Context, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID)
	return nil
}

type server struct {
	engine *gin.Engine
}

func newServer(t *testing.T, srv config.ServerConfig) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := schedule.NewFixedClock(time.Date(2026, 10, 12, 8, 0, 0, 0, cst))
	db, err := mysql.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared", clock.Now)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, mysql.Migrate(db))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwt := &pkg.JWTManager{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     30 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		Now:           clock.Now,
	}
	tokens := &memTokens{m: map[uint64]string{}}
	care := config.Default().Care
	svc := service.New(&service.Deps{DB: db, Clock: clock, Care: care, Log: log}, service.Infra{JWT: jwt, Tokens: tokens})

	return &server{engine: InitRouter(Deps{
		Services: svc,
		JWT:      jwt,
		Tokens:   tokens,
		Server:   srv,
		Care:     care,
		Log:      log,
	})}
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type idResp struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
}

// signup 注册并登录，返回 access token 和用户 id
func (s *server) signup(t *testing.T, name string) (string, uint64) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/user/register", "", gin.H{"username": name, "password": "secret1", "email": name + "@care.test"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	u := decode[idResp](t, w)

	w = s.do(t, http.MethodPost, "/api/user/login", "", gin.H{"username": name, "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[pkg.Pair](t, w).AccessToken, u.ID
}

func TestCheckinFlow(t *testing.T) {
	s := newServer(t, config.ServerConfig{})
	token, _ := s.signup(t, "zhangsan")

	w := s.do(t, http.MethodPost, "/api/rules", token, gin.H{"rule_name": "量血压", "time_slot_type": "morning"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rule := decode[idResp](t, w)

	w = s.do(t, http.MethodGet, "/api/plan?date=2026-10-12", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	plan := decode[struct {
		Items []service.PlanItem `json:"items"`
	}](t, w)
	require.Len(t, plan.Items, 1)
	assert.Equal(t, rule.ID, plan.Items[0].RuleRef)

	body := gin.H{"rule_source": "personal", "rule_ref": rule.ID, "client_time": "2026-10-12T08:55:00+08:00"}
	w = s.do(t, http.MethodPost, "/api/checkin", token, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[idResp](t, w)
	assert.Equal(t, "checked", rec.Status)

	w = s.do(t, http.MethodPost, "/api/checkin", token, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rec.ID, decode[idResp](t, w).ID)

	// 已打卡不能再标记漏打
	w = s.do(t, http.MethodPost, "/api/checkin/miss", token, gin.H{"rule_source": "personal", "rule_ref": rule.ID, "date": "2026-10-12"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_checked", decode[gin.H](t, w)["code"])

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/checkin/%d/cancel", rec.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode[idResp](t, w).Status)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/checkin/records?rule_source=personal&rule_ref=%d&date=2026-10-12", rule.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[struct {
		Items []idResp `json:"items"`
	}](t, w)
	assert.Len(t, records.Items, 1)

	w = s.do(t, http.MethodGet, "/api/history?start_date=2026-10-12&end_date=2026-10-12", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[gin.H](t, w)["total"])
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t, config.ServerConfig{})
	token, _ := s.signup(t, "zhangsan")

	w := s.do(t, http.MethodGet, "/api/plan", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(t, http.MethodGet, "/api/plan", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/rules/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/rules/999", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[gin.H](t, w)["code"])

	w = s.do(t, http.MethodGet, "/api/plan?date=2026-13-40", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 普通用户不能建社区
	w = s.do(t, http.MethodPost, "/api/community", token, gin.H{"name": "东区"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_authorized", decode[gin.H](t, w)["code"])

	// 退出后旧 token 失效
	w = s.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSupervisionOverHTTP(t *testing.T) {
	s := newServer(t, config.ServerConfig{})
	elder, elderID := s.signup(t, "laozhang")
	child, _ := s.signup(t, "xiaozhang")
	other, _ := s.signup(t, "wangwu")

	w := s.do(t, http.MethodPost, "/api/rules", elder, gin.H{"rule_name": "晚间服药"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/supervision/invite-link", elder, gin.H{"ttl": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/supervision/invite-link", elder, gin.H{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	link := decode[service.InviteLink](t, w)
	require.NotEmpty(t, link.Token)

	w = s.do(t, http.MethodPost, "/api/supervision/invite-link/"+link.Token, child, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bound := decode[struct {
		Items []idResp `json:"items"`
	}](t, w)
	require.Len(t, bound.Items, 1)

	// 链接已被绑定
	w = s.do(t, http.MethodPost, "/api/supervision/invite-link/"+link.Token, other, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	planPath := fmt.Sprintf("/api/plan?date=2026-10-12&target=%d", elderID)
	w = s.do(t, http.MethodGet, planPath, child, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/supervision/%d/accept", bound.Items[0].ID), child, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accepted", decode[idResp](t, w).Status)

	w = s.do(t, http.MethodGet, planPath, child, nil)
	require.Equal(t, http.StatusOK, w.Code)
	plan := decode[struct {
		Items []service.PlanItem `json:"items"`
	}](t, w)
	require.Len(t, plan.Items, 1)
	assert.False(t, plan.Items[0].IsEditable)

	w = s.do(t, http.MethodGet, planPath, other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/supervision/incoming?status=accepted", child, nil)
	require.Equal(t, http.StatusOK, w.Code)
	incoming := decode[struct {
		Items []idResp `json:"items"`
	}](t, w)
	assert.Len(t, incoming.Items, 1)
}

func TestWriteRateLimit(t *testing.T) {
	s := newServer(t, config.ServerConfig{WriteRPS: 0.001, WriteBurst: 1})
	token, _ := s.signup(t, "zhangsan")

	w := s.do(t, http.MethodPost, "/api/rules", token, gin.H{"rule_name": "散步"})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/api/rules", token, gin.H{"rule_name": "喝水"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// 读请求不限流
	w = s.do(t, http.MethodGet, "/api/rules", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDAndMetrics(t *testing.T) {
	s := newServer(t, config.ServerConfig{})

	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "care_http_requests_total")
}

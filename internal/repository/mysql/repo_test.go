package mysql

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string, community *uint64) *model.User {
	t.Helper()
	u := &model.User{Username: name, Password: "x", Email: name + "@care.test", CommunityID: community}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedCommunityRule(t *testing.T, db *gorm.DB, communityID uint64, name string, status model.CommunityRuleStatus) *model.CommunityRule {
	t.Helper()
	cr := &model.CommunityRule{
		CommunityID:  communityID,
		RuleName:     name,
		Status:       status,
		RuleSchedule: model.RuleSchedule{FrequencyType: "everyday", TimeSlotType: "morning"},
	}
	require.NoError(t, db.Create(cr).Error)
	return cr
}

func ptr[T any](v T) *T { return &v }

func TestMigrateSeedsReservedCommunities(t *testing.T) {
	db := setupTestDB(t)
	repo := &CommunityRepository{DB: db}
	ctx := context.Background()

	def, err := repo.FindByID(ctx, model.DefaultCommunityID)
	require.NoError(t, err)
	assert.Equal(t, "default", def.Name)

	// 再跑一次也不报错
	require.NoError(t, Migrate(db))

	_, err = repo.FindByID(ctx, 999)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestActivationUpsertAndSelfHealInsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := &ActivationRepository{DB: db}
	u := seedUser(t, db, "u1", ptr(model.DefaultCommunityID))
	a := seedCommunityRule(t, db, model.DefaultCommunityID, "A", model.CommunityRuleEnabled)
	b := seedCommunityRule(t, db, model.DefaultCommunityID, "B", model.CommunityRuleEnabled)
	seedCommunityRule(t, db, model.DefaultCommunityID, "draft", model.CommunityRuleDraft)

	require.NoError(t, repo.Activate(ctx, u.ID, a.ID))
	require.NoError(t, repo.Activate(ctx, u.ID, a.ID))

	missing, err := repo.MissingEnabled(ctx, u.ID, model.DefaultCommunityID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{b.ID}, missing)

	require.NoError(t, repo.Deactivate(ctx, u.ID, a.ID))
	// 补缺只插入缺失行，不会把已停用的 A 重新激活
	require.NoError(t, repo.InsertMissing(ctx, u.ID, []uint64{a.ID, b.ID}))

	rules, err := repo.ActiveRulesFor(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "B", rules[0].RuleName)

	// 显式激活会覆盖停用
	require.NoError(t, repo.Activate(ctx, u.ID, a.ID))
	rules, err = repo.ActiveRulesFor(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	var n int64
	require.NoError(t, db.Model(&model.UserCommunityRule{}).Where("user_id = ?", u.ID).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestActiveRulesForFollowsCurrentCommunity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := &ActivationRepository{DB: db}
	u := seedUser(t, db, "u1", ptr(model.DefaultCommunityID))
	a := seedCommunityRule(t, db, model.DefaultCommunityID, "A", model.CommunityRuleEnabled)
	b := seedCommunityRule(t, db, model.SandboxCommunityID, "B", model.CommunityRuleEnabled)
	require.NoError(t, repo.Activate(ctx, u.ID, a.ID))
	require.NoError(t, repo.Activate(ctx, u.ID, b.ID))

	rules, err := repo.ActiveRulesFor(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, a.ID, rules[0].ID)

	require.NoError(t, (&UserRepository{DB: db}).UpdateCommunity(ctx, u.ID, ptr(model.SandboxCommunityID)))
	rules, err = repo.ActiveRulesFor(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, b.ID, rules[0].ID)

	ids, err := (&UserRepository{DB: db}).LockMemberIDs(ctx, model.SandboxCommunityID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{u.ID}, ids)
}

func TestCheckinSlotUniqueness(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := &CheckinRepository{DB: db}
	planned := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	newRec := func(status model.RecordStatus) *model.CheckinRecord {
		return &model.CheckinRecord{
			OwnerID: 42, RuleSource: model.SourcePersonal, RuleID: 7,
			PlannedKey: "2026-10-12T09:00:00", PlannedTime: planned, Status: status,
		}
	}

	first := newRec(model.RecordChecked)
	require.NoError(t, repo.Insert(ctx, first))

	err := repo.Insert(ctx, newRec(model.RecordChecked))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	ok, err := repo.Transition(ctx, first, model.RecordCancelled)
	require.NoError(t, err)
	assert.True(t, ok)

	// 已撤销的记录不占用唯一键，可以再建，也允许多条撤销记录并存
	second := newRec(model.RecordChecked)
	require.NoError(t, repo.Insert(ctx, second))
	ok, err = repo.Transition(ctx, second, model.RecordCancelled)
	require.NoError(t, err)
	assert.True(t, ok)
	third := newRec(model.RecordChecked)
	require.NoError(t, repo.Insert(ctx, third))

	live, err := repo.FindLiveForUpdate(ctx, SlotKey{OwnerID: 42, Source: model.SourcePersonal, RuleID: 7, PlannedKey: "2026-10-12T09:00:00"})
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, third.ID, live.ID)

	// 旧状态不匹配时不更新
	stale := *first
	stale.Status = model.RecordChecked
	ok, err = repo.Transition(ctx, &stale, model.RecordMissed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryHidesSupersededCancellations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := &CheckinRepository{DB: db}

	mk := func(ruleID uint64, source model.RuleSource, key string, status model.RecordStatus) *model.CheckinRecord {
		rec := &model.CheckinRecord{OwnerID: 1, RuleSource: source, RuleID: ruleID, PlannedKey: key,
			PlannedTime: time.Now(), Status: status}
		require.NoError(t, repo.Insert(ctx, rec))
		return rec
	}
	mk(1, model.SourcePersonal, "2026-10-12T09:00:00", model.RecordCancelled)
	mk(1, model.SourcePersonal, "2026-10-12T09:00:00", model.RecordChecked)
	lone := mk(1, model.SourcePersonal, "2026-10-13T09:00:00", model.RecordCancelled)
	mk(2, model.SourcePersonal, "2026-10-13T09:00:00", model.RecordMissed)
	mk(9, model.SourceCommunity, "2026-10-13T08:00:00", model.RecordChecked)
	mk(1, model.SourcePersonal, "2026-10-20T09:00:00", model.RecordChecked)

	f := HistoryFilter{OwnerID: 1, FromKey: "2026-10-12T00:00:00", ToKey: "2026-10-13T23:59:59", Personal: true, Community: true}
	list, total, err := repo.History(ctx, f, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Len(t, list, 4)
	ids := make([]uint64, 0, len(list))
	for _, r := range list {
		ids = append(ids, r.ID)
		if r.PlannedKey == "2026-10-12T09:00:00" {
			assert.Equal(t, model.RecordChecked, r.Status)
		}
	}
	assert.Contains(t, ids, lone.ID)

	f.RuleIDs = []uint64{2}
	f.Community = false
	list, total, err = repo.History(ctx, f, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, model.RecordMissed, list[0].Status)

	list, total, err = repo.History(ctx, HistoryFilter{OwnerID: 1, FromKey: f.FromKey, ToKey: f.ToKey}, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

func TestSupervisionBindTokenIsCompareAndSet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := &SupervisionRepository{DB: db}
	token := "tok"
	exp := time.Now().Add(time.Hour)
	require.NoError(t, repo.CreateBatch(ctx, []model.SupervisionRelation{
		{TargetUserID: 1, RuleID: ptr(uint64(10)), Status: model.RelationPending, InviteToken: &token, InviteExpiresAt: &exp},
		{TargetUserID: 1, RuleID: ptr(uint64(11)), Status: model.RelationPending, InviteToken: &token, InviteExpiresAt: &exp},
	}))

	// 过期之后比较并设置不命中
	n, err := repo.BindToken(ctx, token, 5, exp)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.BindToken(ctx, token, 5, exp.Add(-time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.BindToken(ctx, token, 6, exp.Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	rels, err := repo.ByToken(ctx, token)
	require.NoError(t, err)
	for _, r := range rels {
		assert.True(t, r.SupervisedBy(5))
	}
}

func TestHelpSupportIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := &HelpRepository{DB: db}
	h := &model.HelpEvent{CommunityID: 1, AuthorID: 1, Title: "买菜"}
	require.NoError(t, repo.Create(ctx, h))

	changed, err := repo.Support(ctx, 2, h.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.Support(ctx, 2, h.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	n, err := repo.SupportCount(ctx, h.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	changed, err = repo.Unsupport(ctx, 2, h.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	n, err = repo.SupportCount(ctx, h.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// 非作者、非工作人员删不掉
	affected, err := repo.DeleteWithPermission(ctx, h.ID, 3)
	require.NoError(t, err)
	assert.Zero(t, affected)
	require.NoError(t, (&StaffRepository{DB: db}).Upsert(ctx, &model.CommunityStaff{CommunityID: 1, UserID: 3, Role: model.StaffRoleStaff}))
	affected, err = repo.DeleteWithPermission(ctx, h.ID, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)
}

func TestOutboxDrainStates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := &OutboxRepository{DB: db}
	require.NoError(t, repo.Insert(ctx, Event{Type: model.EventCheckinChecked, AggregateID: 1, UserID: 2, Data: map[string]any{"k": "v"}}))
	require.NoError(t, repo.Insert(ctx, Event{Type: model.EventCheckinMissed, AggregateID: 2}))

	list, err := repo.List(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.JSONEq(t, `{"type":"checkin.checked","aggregate_id":1,"user_id":2,"k":"v"}`, list[0].Payload)

	require.NoError(t, repo.SuccessUpdate(ctx, list[0].ID))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RetryUpdate(ctx, list[1].ID))
	}
	list, err = repo.List(ctx, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, list)
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
)

func TestMembershipSwitch(t *testing.T) {
	e := newEnv(t, at(monday, "08:00"))
	ctx := context.Background()
	admin := e.admin(t)
	c1 := e.community(t, admin.ID, "东区")
	c2 := e.community(t, admin.ID, "西区")
	u := e.user(t, "u1", &c1.ID)

	a := e.enabledRule(t, admin.ID, c1.ID, RuleInput{RuleName: "A", TimeSlotType: "morning"})
	e.enabledRule(t, admin.ID, c1.ID, RuleInput{RuleName: "B", TimeSlotType: "afternoon"})
	b2 := e.enabledRule(t, admin.ID, c2.ID, RuleInput{RuleName: "B", TimeSlotType: "afternoon"})
	cc := e.enabledRule(t, admin.ID, c2.ID, RuleInput{RuleName: "C", TimeSlotType: "evening"})

	plan, err := e.svc.Plans.TodayPlan(ctx, u.ID, day(monday))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ruleNames(plan))

	rec, err := e.svc.Checkins.Perform(ctx, u.ID, model.SourceCommunity, a.ID, at(monday, "09:00"))
	require.NoError(t, err)

	moved, err := e.svc.Membership.Change(ctx, admin.ID, u.ID, c2.ID)
	require.NoError(t, err)
	assert.True(t, moved.InCommunity(c2.ID))

	plan, err = e.svc.Plans.TodayPlan(ctx, u.ID, day(monday))
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, b2.ID, plan[0].RuleRef)
	assert.Equal(t, cc.ID, plan[1].RuleRef)

	// 旧社区规则下的记录原样保留
	hist, err := e.svc.Plans.History(ctx, u.ID, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, hist.Items, 1)
	assert.Equal(t, rec.ID, hist.Items[0].ID)
	assert.Equal(t, model.RecordChecked, hist.Items[0].Status)

	_, err = e.svc.Checkins.Perform(ctx, u.ID, model.SourceCommunity, a.ID, at(tuesday, "09:00"))
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	// 重复迁入同一社区是空操作
	before := len(e.outboxTypes(t))
	_, err = e.svc.Membership.Change(ctx, admin.ID, u.ID, c2.ID)
	require.NoError(t, err)
	assert.Len(t, e.outboxTypes(t), before)
}

// 启用规则读到的成员名单早于换社区提交时，迟到的激活行不能把旧社区规则带进新计划
func TestMembershipSwitchRacingEnable(t *testing.T) {
	e := newEnv(t, at(monday, "08:00"))
	ctx := context.Background()
	admin := e.admin(t)
	c1 := e.community(t, admin.ID, "东区")
	c2 := e.community(t, admin.ID, "西区")
	u := e.user(t, "u1", &c1.ID)
	e.enabledRule(t, admin.ID, c2.ID, RuleInput{RuleName: "C", TimeSlotType: "evening"})

	a, err := e.svc.CommunityRules.Create(ctx, admin.ID, c1.ID, RuleInput{RuleName: "A", TimeSlotType: "morning"})
	require.NoError(t, err)

	snapshot, err := (&mysql.UserRepository{DB: e.db}).LockMemberIDs(ctx, c1.ID, 0, fanoutBatch)
	require.NoError(t, err)
	require.Equal(t, []uint64{u.ID}, snapshot)

	_, err = e.svc.Membership.Change(ctx, admin.ID, u.ID, c2.ID)
	require.NoError(t, err)

	require.NoError(t, e.db.Model(&model.CommunityRule{}).Where("id = ?", a.ID).Update("status", model.CommunityRuleEnabled).Error)
	require.NoError(t, (&mysql.ActivationRepository{DB: e.db}).ActivateMany(ctx, snapshot, a.ID))

	plan, err := e.svc.Plans.TodayPlan(ctx, u.ID, day(monday))
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, ruleNames(plan))

	_, err = e.svc.Checkins.Perform(ctx, u.ID, model.SourceCommunity, a.ID, at(monday, "09:00"))
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)
}

func TestMembershipPermissions(t *testing.T) {
	e := newEnv(t, at(monday, "08:00"))
	ctx := context.Background()
	admin := e.admin(t)
	c1 := e.community(t, admin.ID, "东区")
	c2 := e.community(t, admin.ID, "西区")
	staff := e.user(t, "staff", nil)
	require.NoError(t, e.svc.Communities.AddStaff(ctx, admin.ID, c1.ID, staff.ID, model.StaffRoleStaff))
	u := e.user(t, "u1", &c1.ID)
	e.enabledRule(t, admin.ID, c1.ID, RuleInput{RuleName: "A", TimeSlotType: "morning"})

	// 没有目标社区的权限
	_, err := e.svc.Membership.Change(ctx, staff.ID, u.ID, c2.ID)
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	// 移到沙箱看的是原社区权限
	moved, err := e.svc.Membership.Remove(ctx, staff.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, moved.InCommunity(model.SandboxCommunityID))

	plan, err := e.svc.Plans.TodayPlan(ctx, u.ID, day(monday))
	require.NoError(t, err)
	assert.Empty(t, plan)

	members, total, err := e.svc.Membership.Members(ctx, staff.ID, c1.ID, 1, 20)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, members)

	require.NoError(t, e.svc.Communities.SetStatus(ctx, admin.ID, c2.ID, model.CommunityDisabled))
	_, err = e.svc.Membership.Change(ctx, admin.ID, u.ID, c2.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	assert.ErrorIs(t, e.svc.Communities.SetStatus(ctx, admin.ID, model.DefaultCommunityID, model.CommunityDisabled), errs.ErrInvalidArgument)
}

func TestCommunityStaffManagement(t *testing.T) {
	e := newEnv(t, at(monday, "08:00"))
	ctx := context.Background()
	admin := e.admin(t)
	u := e.user(t, "u1", nil)
	mgr := e.user(t, "mgr", nil)

	_, err := e.svc.Communities.CreateCommunity(ctx, u.ID, "私建社区", "")
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	c := e.community(t, admin.ID, "东区")
	require.NoError(t, e.svc.Communities.AddStaff(ctx, admin.ID, c.ID, mgr.ID, model.StaffRoleManager))
	require.NoError(t, e.svc.Communities.AddStaff(ctx, mgr.ID, c.ID, u.ID, model.StaffRoleStaff))

	// 普通工作人员不能任命别人
	err = e.svc.Communities.AddStaff(ctx, u.ID, c.ID, admin.ID, model.StaffRoleStaff)
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	// 创建者自动成为 manager，按 role 降序、id 升序
	staff, err := e.svc.Communities.ListStaff(ctx, u.ID, c.ID)
	require.NoError(t, err)
	require.Len(t, staff, 3)
	assert.Equal(t, admin.ID, staff[0].UserID)
	assert.Equal(t, model.StaffRoleManager, staff[0].Role)
	assert.Equal(t, mgr.ID, staff[1].UserID)
	assert.Equal(t, model.StaffRoleManager, staff[1].Role)
	assert.Equal(t, u.ID, staff[2].UserID)
	assert.Equal(t, model.StaffRoleStaff, staff[2].Role)

	require.NoError(t, e.svc.Communities.RemoveStaff(ctx, mgr.ID, c.ID, u.ID))
	_, err = e.svc.Communities.ListStaff(ctx, u.ID, c.ID)
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	staff, err = e.svc.Communities.ListStaff(ctx, mgr.ID, c.ID)
	require.NoError(t, err)
	require.Len(t, staff, 2)
	assert.Equal(t, admin.ID, staff[0].UserID)
	assert.Equal(t, mgr.ID, staff[1].UserID)
}

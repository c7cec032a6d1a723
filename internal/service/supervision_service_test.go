package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/schedule"
)

func TestSupervisionByLink(t *testing.T) {
	e := newEnv(t, at(monday, "08:00"))
	ctx := context.Background()
	target := e.user(t, "target", nil)
	sup := e.user(t, "sup", nil)
	late := e.user(t, "late", nil)

	r1, err := e.svc.Rules.Create(ctx, target.ID, RuleInput{RuleName: "吃药", TimeSlotType: "morning"})
	require.NoError(t, err)
	_, err = e.svc.Rules.Create(ctx, target.ID, RuleInput{RuleName: "散步"})
	require.NoError(t, err)

	link, err := e.svc.Supervision.InviteLink(ctx, target.ID, []uint64{r1.ID}, 0, "")
	require.NoError(t, err)
	assert.True(t, link.ExpiresAt.Equal(at(monday, "08:00").Add(72*time.Hour)))
	require.Len(t, link.Relations, 1)

	e.clock.Advance(48 * time.Hour)

	rels, err := e.svc.Supervision.Resolve(ctx, link.Token, sup.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.True(t, rels[0].SupervisedBy(sup.ID))
	assert.Equal(t, model.RelationPending, rels[0].Status)

	// 接受之前没有读权限
	_, err = e.svc.Supervision.SupervisorPlan(ctx, sup.ID, target.ID, schedule.Date{})
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	rel, err := e.svc.Supervision.Accept(ctx, rels[0].ID, sup.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RelationAccepted, rel.Status)

	plan, err := e.svc.Supervision.SupervisorPlan(ctx, sup.ID, target.ID, schedule.Date{})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, r1.ID, plan[0].RuleRef)
	assert.False(t, plan[0].IsEditable)

	_, err = e.svc.Supervision.Resolve(ctx, link.Token, late.ID)
	assert.ErrorIs(t, err, errs.ErrInviteAlreadyBound)

	// 同一个人再次打开链接
	again, err := e.svc.Supervision.Resolve(ctx, link.Token, sup.ID)
	require.NoError(t, err)
	assert.Equal(t, rels[0].ID, again[0].ID)

	ok, err := e.svc.Supervision.AuthorizeRead(ctx, sup.ID, target.ID, model.SourcePersonal, &r1.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.svc.Supervision.Revoke(ctx, rel.ID, target.ID)
	require.NoError(t, err)
	_, err = e.svc.Supervision.SupervisorPlan(ctx, sup.ID, target.ID, schedule.Date{})
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)
}

func TestResolveErrors(t *testing.T) {
	e := newEnv(t, at(monday, "08:00"))
	ctx := context.Background()
	target := e.user(t, "target", nil)
	sup := e.user(t, "sup", nil)

	link, err := e.svc.Supervision.InviteLink(ctx, target.ID, nil, 0, "")
	require.NoError(t, err)
	require.Len(t, link.Relations, 1)
	assert.Nil(t, link.Relations[0].RuleID)

	_, err = e.svc.Supervision.Resolve(ctx, link.Token, target.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = e.svc.Supervision.Resolve(ctx, "no-such-token", sup.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	e.clock.Advance(72 * time.Hour)
	_, err = e.svc.Supervision.Resolve(ctx, link.Token, sup.ID)
	assert.ErrorIs(t, err, errs.ErrInviteExpired)

	_, err = e.svc.Supervision.InviteLink(ctx, target.ID, []uint64{999}, 0, "")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestInviteUserAndHistoryScope(t *testing.T) {
	e := newEnv(t, at(monday, "08:00"))
	ctx := context.Background()
	target := e.user(t, "target", nil)
	sup := e.user(t, "sup", nil)
	stranger := e.user(t, "stranger", nil)

	r1, err := e.svc.Rules.Create(ctx, target.ID, RuleInput{RuleName: "吃药", TimeSlotType: "morning"})
	require.NoError(t, err)
	r2, err := e.svc.Rules.Create(ctx, target.ID, RuleInput{RuleName: "散步"})
	require.NoError(t, err)

	_, err = e.svc.Supervision.InviteUser(ctx, target.ID, nil, target.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	rels, err := e.svc.Supervision.InviteUser(ctx, target.ID, []uint64{r1.ID, r1.ID}, sup.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)

	// 同一范围复用已有关系
	again, err := e.svc.Supervision.InviteUser(ctx, target.ID, []uint64{r1.ID}, sup.ID)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, rels[0].ID, again[0].ID)

	_, err = e.svc.Supervision.Accept(ctx, rels[0].ID, stranger.ID)
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)
	_, err = e.svc.Supervision.Accept(ctx, rels[0].ID, sup.ID)
	require.NoError(t, err)
	_, err = e.svc.Supervision.Reject(ctx, rels[0].ID, sup.ID)
	assert.ErrorIs(t, err, errs.ErrSlotClosed)

	_, err = e.svc.Checkins.Perform(ctx, target.ID, model.SourcePersonal, r1.ID, at(monday, "09:00"))
	require.NoError(t, err)
	_, err = e.svc.Checkins.Perform(ctx, target.ID, model.SourcePersonal, r2.ID, at(monday, "20:00"))
	require.NoError(t, err)

	page, err := e.svc.Supervision.SupervisorHistory(ctx, sup.ID, target.ID, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, r1.ID, page.Items[0].RuleID)

	own, err := e.svc.Supervision.SupervisorHistory(ctx, target.ID, target.ID, HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, own.Items, 2)

	_, err = e.svc.Supervision.SupervisorHistory(ctx, stranger.ID, target.ID, HistoryQuery{})
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	incoming, err := e.svc.Supervision.ListIncoming(ctx, sup.ID, []model.RelationStatus{model.RelationAccepted})
	require.NoError(t, err)
	assert.Len(t, incoming, 1)
	outgoing, err := e.svc.Supervision.ListOutgoing(ctx, target.ID, nil)
	require.NoError(t, err)
	assert.Len(t, outgoing, 1)

	assert.Contains(t, e.outboxTypes(t), model.EventSupervisionInvited)
	assert.Contains(t, e.outboxTypes(t), model.EventSupervisionAccepted)
}

// 社区工作人员能看到成员的社区规则，看不到个人规则
func TestStaffReadsCommunityRulesOnly(t *testing.T) {
	e := newEnv(t, at(monday, "08:00"))
	ctx := context.Background()
	admin := e.admin(t)
	c := e.community(t, admin.ID, "阳光社区")
	staff := e.user(t, "staff", nil)
	require.NoError(t, e.svc.Communities.AddStaff(ctx, admin.ID, c.ID, staff.ID, model.StaffRoleStaff))
	u := e.user(t, "u1", &c.ID)
	e.enabledRule(t, admin.ID, c.ID, RuleInput{RuleName: "测体温", TimeSlotType: "morning"})
	_, err := e.svc.Rules.Create(ctx, u.ID, RuleInput{RuleName: "私人日记"})
	require.NoError(t, err)

	plan, err := e.svc.Supervision.SupervisorPlan(ctx, staff.ID, u.ID, day(monday))
	require.NoError(t, err)
	assert.Equal(t, []string{"测体温"}, ruleNames(plan))

	self, err := e.svc.Supervision.SupervisorPlan(ctx, u.ID, u.ID, day(monday))
	require.NoError(t, err)
	assert.Len(t, self, 2)
	assert.True(t, self[0].IsEditable)
}

func TestInviteLinkSendsMail(t *testing.T) {
	n := &fakeNotifier{err: errors.New("smtp down")}
	e := newEnv(t, at(monday, "08:00"), withInfra(func(in *Infra) { in.Notifier = n }))
	ctx := context.Background()
	target := e.user(t, "target", nil)

	// 发信失败不影响链接生成
	link, err := e.svc.Supervision.InviteLink(ctx, target.ID, nil, 24*time.Hour, "friend@care.test")
	require.NoError(t, err)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "friend@care.test", n.sent[0].email)
	assert.Equal(t, link.Token, n.sent[0].token)
	assert.True(t, link.ExpiresAt.Equal(at(tuesday, "08:00")))
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Care_Community/internal/model"
)

// 第一个调用方已取消，合并进来的调用方和补出来的激活行都不受影响
func TestSelfHealSurvivesCancelledCaller(t *testing.T) {
	e := newEnv(t, at(monday, "08:00"))
	admin := e.admin(t)
	c := e.community(t, admin.ID, "东区")
	u := e.user(t, "u1", &c.ID)
	a := e.enabledRule(t, admin.ID, c.ID, RuleInput{RuleName: "A", TimeSlotType: "morning"})
	require.NoError(t, e.db.Where("user_id = ?", u.ID).Delete(&model.UserCommunityRule{}).Error)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.svc.Activation.SelfHeal(cancelled, u.ID); err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	require.NoError(t, e.svc.Activation.SelfHeal(context.Background(), u.ID))

	var m model.UserCommunityRule
	require.NoError(t, e.db.Where("user_id = ? AND community_rule_id = ?", u.ID, a.ID).First(&m).Error)
	assert.True(t, m.IsActive)
}

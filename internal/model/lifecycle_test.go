package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"Care_Community/internal/errs"
)

func TestRecordStatusTransitions(t *testing.T) {
	next, changed, err := RecordUnchecked.Check()
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, RecordChecked, next)

	next, changed, err = RecordChecked.Check()
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, RecordChecked, next)

	_, _, err = RecordMissed.Check()
	assert.ErrorIs(t, err, errs.ErrSlotClosed)

	_, _, err = RecordChecked.Miss()
	assert.ErrorIs(t, err, errs.ErrAlreadyChecked)

	next, changed, err = RecordMissed.Miss()
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, RecordMissed, next)

	_, _, err = RecordMissed.Cancel()
	assert.ErrorIs(t, err, errs.ErrSlotClosed)

	next, changed, err = RecordChecked.Cancel()
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, RecordCancelled, next)
}

// missed 没有任何出边
func TestMissedIsTerminal(t *testing.T) {
	for _, step := range []func() (RecordStatus, bool, error){
		RecordMissed.Check, RecordMissed.Miss, RecordMissed.Cancel,
	} {
		next, changed, _ := step()
		assert.Equal(t, RecordMissed, next)
		assert.False(t, changed)
	}
}

func TestLive(t *testing.T) {
	assert.Nil(t, Live(RecordCancelled))
	if assert.NotNil(t, Live(RecordChecked)) {
		assert.Equal(t, int8(1), *Live(RecordChecked))
	}
}

func TestCommunityRuleStatus(t *testing.T) {
	next, err := CommunityRuleDraft.Enable()
	assert.NoError(t, err)
	assert.Equal(t, CommunityRuleEnabled, next)

	_, err = CommunityRuleEnabled.Enable()
	assert.ErrorIs(t, err, errs.ErrRuleLocked)
	assert.ErrorIs(t, CommunityRuleEnabled.Editable(), errs.ErrRuleLocked)
	_, err = CommunityRuleEnabled.Delete()
	assert.ErrorIs(t, err, errs.ErrRuleLocked)

	next, err = CommunityRuleEnabled.Disable()
	assert.NoError(t, err)
	assert.Equal(t, CommunityRuleDraft, next)

	_, err = CommunityRuleDraft.Disable()
	assert.ErrorIs(t, err, errs.ErrRuleLocked)

	_, err = CommunityRuleDeleted.Enable()
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = RuleDeleted.Delete()
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRelationStatus(t *testing.T) {
	next, err := RelationPending.Accept()
	assert.NoError(t, err)
	assert.Equal(t, RelationAccepted, next)

	_, err = RelationRejected.Accept()
	assert.ErrorIs(t, err, errs.ErrSlotClosed)

	next, err = RelationAccepted.Revoke()
	assert.NoError(t, err)
	assert.Equal(t, RelationRevoked, next)

	_, err = RelationAccepted.Reject()
	assert.ErrorIs(t, err, errs.ErrSlotClosed)
}

func TestRuleScheduleValidate(t *testing.T) {
	ok := RuleSchedule{FrequencyType: "everyday", TimeSlotType: "custom", CustomTime: "09:00"}
	assert.NoError(t, ok.Validate())

	bad := RuleSchedule{FrequencyType: "everyday", TimeSlotType: "custom", CustomTime: "9am"}
	assert.ErrorIs(t, bad.Validate(), errs.ErrInvalidArgument)

	bad = RuleSchedule{FrequencyType: "weekly_selected", TimeSlotType: "morning"}
	assert.ErrorIs(t, bad.Validate(), errs.ErrInvalidArgument)

	// 读路径对脏数据兜底成 evening
	dirty := RuleSchedule{FrequencyType: "everyday", TimeSlotType: "custom", CustomTime: "bad"}
	assert.Equal(t, 20, dirty.Recurrence().Time.TimeOfDay().Hour)
}

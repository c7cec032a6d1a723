package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Care_Community/internal/model"
)

type recordingPublisher struct {
	keys  []string
	types []string
	fail  bool
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, key string, _ []byte) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.types = append(p.types, eventType)
	p.keys = append(p.keys, key)
	return nil
}

func TestOutboxRelayerDrains(t *testing.T) {
	pub := &recordingPublisher{}
	e := newEnv(t, at(monday, "08:00"), withInfra(func(in *Infra) { in.Sender = PublisherSender(pub) }))
	ctx := context.Background()
	u := e.user(t, "u1", nil)
	rule, err := e.svc.Rules.Create(ctx, u.ID, RuleInput{RuleName: "吃药"})
	require.NoError(t, err)
	rec, err := e.svc.Checkins.Perform(ctx, u.ID, model.SourcePersonal, rule.ID, at(monday, "20:00"))
	require.NoError(t, err)
	_, err = e.svc.Checkins.Cancel(ctx, u.ID, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, e.svc.Relayer.drainOnce(ctx))
	assert.Equal(t, []string{model.EventCheckinChecked, model.EventCheckinCancelled}, pub.types)
	// 以用户为 key 保证同一用户的事件有序
	assert.Equal(t, []string{strconv.FormatUint(u.ID, 10), strconv.FormatUint(u.ID, 10)}, pub.keys)
	assert.Zero(t, e.svc.Relayer.drainOnce(ctx))

	var ob model.CareOutbox
	require.NoError(t, e.db.First(&ob).Error)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(ob.Payload), &body))
	assert.Equal(t, "2026-10-12T20:00:00", body["planned_key"])
	assert.Equal(t, "personal", body["rule_source"])
}

func TestOutboxRelayerRetryLimit(t *testing.T) {
	pub := &recordingPublisher{fail: true}
	e := newEnv(t, at(monday, "08:00"), withInfra(func(in *Infra) { in.Sender = PublisherSender(pub) }))
	ctx := context.Background()
	u := e.user(t, "u1", nil)
	rule, err := e.svc.Rules.Create(ctx, u.ID, RuleInput{RuleName: "吃药"})
	require.NoError(t, err)
	_, err = e.svc.Checkins.Perform(ctx, u.ID, model.SourcePersonal, rule.ID, at(monday, "20:00"))
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		assert.Zero(t, e.svc.Relayer.drainOnce(ctx))
	}
	var ob model.CareOutbox
	require.NoError(t, e.db.First(&ob).Error)
	assert.Equal(t, int8(model.OutboxFailed), ob.Status)
	assert.Equal(t, 5, ob.Retry)

	// 超过重试上限后不再取出
	pub.fail = false
	assert.Zero(t, e.svc.Relayer.drainOnce(ctx))
	assert.Empty(t, pub.types)
}

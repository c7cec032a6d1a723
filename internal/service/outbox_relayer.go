package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/gorm"

	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
)

// Publisher 消息投递端，Kafka 与 RabbitMQ 生产者都满足
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload []byte) error
}

// Sender 投递一条 outbox 记录
type Sender func(ctx context.Context, ob *model.CareOutbox) error

// PublisherSender 以被影响用户为消息 key，同一用户的事件保持顺序
func PublisherSender(p Publisher) Sender {
	return func(ctx context.Context, ob *model.CareOutbox) error {
		return p.Publish(ctx, ob.EventType, strconv.FormatUint(ob.UserID, 10), []byte(ob.Payload))
	}
}

// LogSender 没有配置消息队列时只打日志
func LogSender(log *slog.Logger) Sender {
	return func(ctx context.Context, ob *model.CareOutbox) error {
		log.InfoContext(ctx, "outbox event", "type", ob.EventType, "aggregate_id", ob.AggregateID,
			"user_id", ob.UserID, "payload", ob.Payload)
		return nil
	}
}

// OutboxRelayer 把事务内写入的事件异步投递出去
type OutboxRelayer struct {
	db        *gorm.DB
	log       *slog.Logger
	batchSize int
	maxRetry  int
	interval  time.Duration
	sender    Sender
}

func NewOutboxRelayer(d *Deps, sender Sender) *OutboxRelayer {
	return &OutboxRelayer{
		db:        d.DB,
		log:       d.logger(),
		batchSize: 200,
		maxRetry:  5,
		interval:  time.Second,
		sender:    sender,
	}
}

// Run outbox 启动器
func (r *OutboxRelayer) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.drainOnce(ctx)
		}
	}
}

// drainOnce 投递一批，返回成功条数
func (r *OutboxRelayer) drainOnce(ctx context.Context) int {
	repo := &mysql.OutboxRepository{DB: r.db}
	rows, err := repo.List(ctx, r.batchSize, r.maxRetry)
	if err != nil {
		r.log.ErrorContext(ctx, "outbox query failed", "err", err)
		return 0
	}
	sent := 0
	for i := range rows {
		ob := rows[i]
		if err := r.sender(ctx, &ob); err != nil {
			outboxSentTotal.WithLabelValues("failed").Inc()
			r.log.WarnContext(ctx, "outbox send failed", "id", ob.ID, "type", ob.EventType, "retry", ob.Retry, "err", err)
			_ = repo.RetryUpdate(ctx, ob.ID)
			continue
		}
		outboxSentTotal.WithLabelValues("sent").Inc()
		_ = repo.SuccessUpdate(ctx, ob.ID)
		sent++
	}
	return sent
}

package service

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
)

// FanoutReconciler 补齐成员过多时延后的社区规则下发
type FanoutReconciler struct {
	db        *gorm.DB
	log       *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewFanoutReconciler(d *Deps) *FanoutReconciler {
	return &FanoutReconciler{
		db:        d.DB,
		log:       d.logger(),
		interval:  d.Care.SweepInterval,
		batchSize: fanoutBatch,
	}
}

// ReconcilerRun 定时补齐
func (r *FanoutReconciler) ReconcilerRun(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.log.ErrorContext(ctx, "fanout reconcile failed", "err", err)
			}
		}
	}
}

// ReconcileOnce 处理全部待补齐规则，返回写入的激活行数
func (r *FanoutReconciler) ReconcileOnce(ctx context.Context) (int, error) {
	ids, err := (&mysql.CommunityRuleRepository{DB: r.db}).FanoutPending(ctx, 100)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		n, err := r.reconcileRule(ctx, id)
		total += n
		if err != nil {
			r.log.WarnContext(ctx, "fanout rule failed", "rule_id", id, "err", err)
			continue
		}
		r.log.InfoContext(ctx, "fanout completed", "rule_id", id, "members", n)
	}
	return total, nil
}

// reconcileRule 每批一个事务，都在规则行锁下检查规则仍处于启用且待补齐，
// 中途被停用时直接结束
func (r *FanoutReconciler) reconcileRule(ctx context.Context, ruleID uint64) (int, error) {
	var (
		last  uint64
		total int
	)
	for {
		done := false
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			rules := &mysql.CommunityRuleRepository{DB: tx}
			rule, err := rules.LockByID(ctx, ruleID)
			if err != nil {
				if errIsNotFound(err) {
					done = true
					return nil
				}
				return err
			}
			if rule.Status != model.CommunityRuleEnabled || !rule.FanoutPending {
				done = true
				return nil
			}
			ids, err := (&mysql.UserRepository{DB: tx}).LockMemberIDs(ctx, rule.CommunityID, last, r.batchSize)
			if err != nil {
				return err
			}
			if err := (&mysql.ActivationRepository{DB: tx}).ActivateMany(ctx, ids, ruleID); err != nil {
				return err
			}
			total += len(ids)
			fanoutMembersTotal.WithLabelValues("async").Add(float64(len(ids)))
			if len(ids) < r.batchSize {
				done = true
				return rules.Update(ctx, ruleID, map[string]any{"fanout_pending": false})
			}
			last = ids[len(ids)-1]
			return nil
		})
		if err != nil {
			return total, err
		}
		if done {
			return total, nil
		}
	}
}

package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkinTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_checkin_total",
		Help: "Check-in state transitions by operation and outcome",
	}, []string{"op", "outcome"})

	retryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_conflict_retry_total",
		Help: "Operations retried after a serialisation conflict",
	}, []string{"op"})

	sweepMarkedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "care_sweeper_marked_missed_total",
		Help: "Slots closed as missed by the sweeper",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "care_sweeper_pass_seconds",
		Help:    "Duration of one sweeper pass",
		Buckets: prometheus.DefBuckets,
	})

	fanoutMembersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_fanout_members_total",
		Help: "Activation rows written by community rule fan-out",
	}, []string{"mode"})

	selfHealTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "care_activation_self_heal_total",
		Help: "Activation rows created by read-time self-heal",
	})

	planBuildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "care_plan_build_seconds",
		Help:    "Time to materialise one plan",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	outboxSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_outbox_sent_total",
		Help: "Outbox rows relayed to the broker",
	}, []string{"result"})
)

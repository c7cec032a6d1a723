package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/repository/mysql"
	"Care_Community/internal/schedule"
)

// PlanItem 某天的一个计划时段，以及它的记录状态
type PlanItem struct {
	RuleSource  model.RuleSource   `json:"rule_source"`
	RuleRef     uint64             `json:"rule_ref"`
	RuleName    string             `json:"rule_name"`
	Icon        string             `json:"icon,omitempty"`
	TimeSlot    string             `json:"time_slot_type"`
	PlannedTime time.Time          `json:"planned_time"`
	Status      model.RecordStatus `json:"status"`
	RecordID    uint64             `json:"record_id,omitempty"`
	CheckinTime *time.Time         `json:"checkin_time,omitempty"`
	IsEditable  bool               `json:"is_editable"`

	// 规则对该用户生效的起点，之前的时段不参与漏打判定
	since time.Time
}

// HistoryQuery 历史分页参数，零值日期取最近 30 天
type HistoryQuery struct {
	Start   schedule.Date
	End     schedule.Date
	Page    int
	PerPage int
}

type HistoryPage struct {
	Items   []model.CheckinRecord `json:"items"`
	Total   int64                 `json:"total"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
}

const (
	defaultPerPage     = 20
	maxPerPage         = 100
	defaultHistoryDays = 30
	maxHistoryDays     = 366
)

func (q HistoryQuery) normalize(today schedule.Date) (HistoryQuery, error) {
	if q.End.IsZero() {
		q.End = today
	}
	if q.Start.IsZero() {
		q.Start = q.End.AddDays(-(defaultHistoryDays - 1))
	}
	if q.Start.After(q.End) {
		return q, errs.Wrapf(errs.ErrInvalidArgument, "start_date %s is after end_date %s", q.Start, q.End)
	}
	if q.Start.AddDays(maxHistoryDays).Before(q.End) {
		return q, errs.Wrapf(errs.ErrInvalidArgument, "range longer than %d days", maxHistoryDays)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
	return q, nil
}

// PlanService 按天生成计划并与已有记录合并
type PlanService struct {
	db         *gorm.DB
	clock      schedule.Clock
	activation *ActivationService
}

func NewPlanService(d *Deps, activation *ActivationService) *PlanService {
	return &PlanService{db: d.DB, clock: d.Clock, activation: activation}
}

// TodayPlan date 为零值时取服务端本地今天
func (s *PlanService) TodayPlan(ctx context.Context, userID uint64, date schedule.Date) ([]PlanItem, error) {
	if date.IsZero() {
		date = schedule.Today(s.clock)
	}
	items, err := s.buildPlan(ctx, userID, date)
	return items, fromCtx(ctx, err)
}

func slotID(src model.RuleSource, ruleID uint64, key string) string {
	return fmt.Sprintf("%s/%d/%s", src, ruleID, key)
}

// buildPlan 自愈之后，在一个只读事务里取规则和记录
func (s *PlanService) buildPlan(ctx context.Context, userID uint64, date schedule.Date) ([]PlanItem, error) {
	start := time.Now()
	defer func() { planBuildSeconds.Observe(time.Since(start).Seconds()) }()

	if err := s.activation.SelfHeal(ctx, userID); err != nil {
		return nil, err
	}
	loc := s.clock.Location()
	fromKey, toKey := dayKeys(date)

	var (
		personal  []model.Rule
		community []mysql.ActiveCommunityRule
		records   []model.CheckinRecord
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if personal, err = (&mysql.RuleRepository{DB: tx}).ListActiveFor(ctx, userID); err != nil {
			return err
		}
		if community, err = (&mysql.ActivationRepository{DB: tx}).ActiveRulesFor(ctx, userID); err != nil {
			return err
		}
		records, err = (&mysql.CheckinRepository{DB: tx}).LiveInRange(ctx, userID, fromKey, toKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	bySlot := make(map[string]*model.CheckinRecord, len(records))
	for i := range records {
		r := &records[i]
		bySlot[slotID(r.RuleSource, r.RuleID, r.PlannedKey)] = r
	}

	items := make([]PlanItem, 0, len(personal)+len(community))
	add := func(src model.RuleSource, id uint64, name, icon string, sched model.RuleSchedule, since time.Time) {
		rec := sched.Recurrence()
		if !rec.ActiveOn(date) {
			return
		}
		planned := rec.PlannedAt(date, loc)
		it := PlanItem{
			RuleSource:  src,
			RuleRef:     id,
			RuleName:    name,
			Icon:        icon,
			TimeSlot:    string(rec.Time.Slot()),
			PlannedTime: planned,
			Status:      model.RecordUnchecked,
			IsEditable:  src == model.SourcePersonal,
			since:       since,
		}
		if r, ok := bySlot[slotID(src, id, schedule.SlotKey(planned, loc))]; ok {
			it.Status = r.Status
			it.RecordID = r.ID
			it.CheckinTime = r.CheckinTime
		}
		items = append(items, it)
	}
	for _, r := range personal {
		add(model.SourcePersonal, r.ID, r.RuleName, r.Icon, r.RuleSchedule, r.CreatedAt)
	}
	for _, r := range community {
		since := r.ActivatedAt
		if r.EnabledAt != nil && r.EnabledAt.After(since) {
			since = *r.EnabledAt
		}
		add(model.SourceCommunity, r.ID, r.RuleName, r.Icon, r.RuleSchedule, since)
	}
	sortPlan(items)
	return items, nil
}

// sortPlan 个人规则在前，其次按计划时间、规则名、规则 id
func sortPlan(items []PlanItem) {
	rank := func(src model.RuleSource) int {
		if src == model.SourcePersonal {
			return 0
		}
		return 1
	}
	slices.SortStableFunc(items, func(a, b PlanItem) int {
		return cmp.Or(
			cmp.Compare(rank(a.RuleSource), rank(b.RuleSource)),
			a.PlannedTime.Compare(b.PlannedTime),
			cmp.Compare(a.RuleName, b.RuleName),
			cmp.Compare(a.RuleRef, b.RuleRef),
		)
	})
}

// History 本人的历史记录，包含已撤销但未被同一时段新记录取代的
func (s *PlanService) History(ctx context.Context, userID uint64, q HistoryQuery) (*HistoryPage, error) {
	return s.history(ctx, mysql.HistoryFilter{OwnerID: userID, Personal: true, Community: true}, q)
}

func (s *PlanService) history(ctx context.Context, f mysql.HistoryFilter, q HistoryQuery) (*HistoryPage, error) {
	q, err := q.normalize(schedule.Today(s.clock))
	if err != nil {
		return nil, err
	}
	f.FromKey, _ = dayKeys(q.Start)
	_, f.ToKey = dayKeys(q.End)
	list, total, err := (&mysql.CheckinRepository{DB: s.db}).History(ctx, f, (q.Page-1)*q.PerPage, q.PerPage)
	if err != nil {
		return nil, fromCtx(ctx, err)
	}
	if list == nil {
		list = []model.CheckinRecord{}
	}
	return &HistoryPage{Items: list, Total: total, Page: q.Page, PerPage: q.PerPage}, nil
}

package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"Care_Community/internal/model"
	"Care_Community/internal/schedule"
	"Care_Community/internal/service"
)

// CheckinHandler 今日计划、打卡与历史
type CheckinHandler struct {
	plans       *service.PlanService
	checkins    *service.CheckinService
	supervision *service.SupervisionService
}

func NewCheckinHandler(plans *service.PlanService, checkins *service.CheckinService, supervision *service.SupervisionService) *CheckinHandler {
	return &CheckinHandler{plans: plans, checkins: checkins, supervision: supervision}
}

type CheckinReq struct {
	RuleSource model.RuleSource `json:"rule_source" binding:"required"`
	RuleRef    uint64           `json:"rule_ref" binding:"required"`
	// 客户端本地时间，RFC3339；为空时取服务端时间
	ClientTime time.Time `json:"client_time"`
}

type MissReq struct {
	RuleSource model.RuleSource `json:"rule_source" binding:"required"`
	RuleRef    uint64           `json:"rule_ref" binding:"required"`
	Date       schedule.Date    `json:"date"`
}

// target 为空或等于自己时读本人数据，否则按监督关系授权
func (h *CheckinHandler) target(c *gin.Context) (actor, target uint64, ok bool) {
	actor = currentUser(c)
	target, ok = queryUint(c, "target")
	if !ok {
		return 0, 0, false
	}
	if target == 0 {
		target = actor
	}
	return actor, target, true
}

// Plan GET /plan?date=&target=
func (h *CheckinHandler) Plan(c *gin.Context) {
	actor, target, ok := h.target(c)
	if !ok {
		return
	}
	date, ok := queryDate(c, "date")
	if !ok {
		return
	}

	var (
		items []service.PlanItem
		err   error
	)
	if target == actor {
		items, err = h.plans.TodayPlan(c.Request.Context(), actor, date)
	} else {
		items, err = h.supervision.SupervisorPlan(c.Request.Context(), actor, target, date)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// History GET /history?start_date=&end_date=&page=&per_page=&target=
func (h *CheckinHandler) History(c *gin.Context) {
	actor, target, ok := h.target(c)
	if !ok {
		return
	}
	start, ok := queryDate(c, "start_date")
	if !ok {
		return
	}
	end, ok := queryDate(c, "end_date")
	if !ok {
		return
	}
	q := service.HistoryQuery{
		Start:   start,
		End:     end,
		Page:    queryInt(c, "page", 1),
		PerPage: queryInt(c, "per_page", 20),
	}

	var (
		page *service.HistoryPage
		err  error
	)
	if target == actor {
		page, err = h.plans.History(c.Request.Context(), actor, q)
	} else {
		page, err = h.supervision.SupervisorHistory(c.Request.Context(), actor, target, q)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *CheckinHandler) Perform(c *gin.Context) {
	var req CheckinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	rec, err := h.checkins.Perform(c.Request.Context(), currentUser(c), req.RuleSource, req.RuleRef, req.ClientTime)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *CheckinHandler) Miss(c *gin.Context) {
	var req MissReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	rec, err := h.checkins.Miss(c.Request.Context(), currentUser(c), req.RuleSource, req.RuleRef, req.Date)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Cancel 撤销已打卡记录
func (h *CheckinHandler) Cancel(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	rec, err := h.checkins.Cancel(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Records GET /checkin/records?rule_source=&rule_ref=&date=
func (h *CheckinHandler) Records(c *gin.Context) {
	ref, ok := queryUint(c, "rule_ref")
	if !ok {
		return
	}
	date, ok := queryDate(c, "date")
	if !ok {
		return
	}
	list, err := h.checkins.ByRuleAndDate(c.Request.Context(), currentUser(c), model.RuleSource(c.Query("rule_source")), ref, date)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

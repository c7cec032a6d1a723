package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Care_Community/internal/config"
	"Care_Community/internal/handler"
	"Care_Community/internal/middleware"
	"Care_Community/internal/pkg"
	"Care_Community/internal/service"
)

// Deps 路由需要的全部依赖
type Deps struct {
	Services *service.Services
	JWT      *pkg.JWTManager
	Tokens   middleware.TokenStore
	Server   config.ServerConfig
	Care     config.CareConfig
	Log      *slog.Logger
	// Ready 依赖探活，为空时 /healthz 只表示进程存活
	Ready func(ctx context.Context) error
}

func InitRouter(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.Metrics(), middleware.Deadline(d.Care.RequestTimeout))

	svc := d.Services
	user := handler.NewUserHandler(svc.Users)
	rule := handler.NewRuleHandler(svc.Rules)
	communityRule := handler.NewCommunityRuleHandler(svc.CommunityRules, svc.Activation)
	checkin := handler.NewCheckinHandler(svc.Plans, svc.Checkins, svc.Supervision)
	supervision := handler.NewSupervisionHandler(svc.Supervision)
	community := handler.NewCommunityHandler(svc.Communities, svc.Membership)
	help := handler.NewHelpHandler(svc.Help)

	auth := middleware.AuthMiddleware(d.JWT, d.Tokens)
	limit := middleware.NewWriteLimiter(d.Server.WriteRPS, d.Server.WriteBurst).Middleware()

	r.GET("/healthz", func(c *gin.Context) {
		if d.Ready != nil {
			if err := d.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"msg": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"msg": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 用户相关接口
	userGroup := r.Group("/api/user")
	{
		userGroup.POST("/register", user.Register)
		userGroup.POST("/login", user.Login)
	}

	// token相关接口
	tokenGroup := r.Group("/api/token")
	{
		tokenGroup.POST("/refresh", user.TokenRefresh)
	}

	// 登录态接口
	authGroup := r.Group("/api/auth")
	authGroup.Use(auth, limit)
	{
		authGroup.GET("/me", user.Me)
		authGroup.POST("/logout", user.Logout)
		authGroup.POST("/change-password", user.ChangePassword)
	}

	// 个人规则
	ruleGroup := r.Group("/api/rules")
	ruleGroup.Use(auth, limit)
	{
		ruleGroup.POST("", rule.Create)
		ruleGroup.GET("", rule.List)
		ruleGroup.GET("/:id", rule.Get)
		ruleGroup.PUT("/:id", rule.Update)
		ruleGroup.DELETE("/:id", rule.Delete)
	}

	// 计划、打卡与历史
	checkinGroup := r.Group("/api")
	checkinGroup.Use(auth, limit)
	{
		checkinGroup.GET("/plan", checkin.Plan)
		checkinGroup.GET("/history", checkin.History)
		checkinGroup.POST("/checkin", checkin.Perform)
		checkinGroup.POST("/checkin/miss", checkin.Miss)
		checkinGroup.POST("/checkin/:id/cancel", checkin.Cancel)
		checkinGroup.GET("/checkin/records", checkin.Records)
	}

	// 监督关系
	supervisionGroup := r.Group("/api/supervision")
	supervisionGroup.Use(auth, limit)
	{
		supervisionGroup.POST("/invite", supervision.InviteUser)
		supervisionGroup.POST("/invite-link", supervision.InviteLink)
		supervisionGroup.POST("/invite-link/:token", supervision.Resolve)
		supervisionGroup.POST("/:id/accept", supervision.Accept)
		supervisionGroup.POST("/:id/reject", supervision.Reject)
		supervisionGroup.POST("/:id/revoke", supervision.Revoke)
		supervisionGroup.GET("/incoming", supervision.Incoming)
		supervisionGroup.GET("/outgoing", supervision.Outgoing)
	}

	// 社区、工作人员、成员与社区规则
	communityGroup := r.Group("/api/community")
	communityGroup.Use(auth, limit)
	{
		communityGroup.POST("", community.Create)
		communityGroup.GET("/list", community.List)
		communityGroup.GET("/:id", community.Get)
		communityGroup.PUT("/:id/status", community.SetStatus)

		communityGroup.GET("/:id/staff", community.ListStaff)
		communityGroup.POST("/:id/staff", community.AddStaff)
		communityGroup.DELETE("/:id/staff/:user_id", community.RemoveStaff)

		communityGroup.GET("/:id/members", community.Members)
		communityGroup.POST("/:id/members/:user_id", community.MoveMember)
		communityGroup.DELETE("/members/:user_id", community.RemoveMember)

		communityGroup.POST("/:id/rules", communityRule.Create)
		communityGroup.GET("/:id/rules", communityRule.List)

		communityGroup.GET("/:id/help", help.ListByCommunity)
	}

	communityRuleGroup := r.Group("/api/community-rules")
	communityRuleGroup.Use(auth, limit)
	{
		communityRuleGroup.GET("/:rule_id", communityRule.Get)
		communityRuleGroup.PUT("/:rule_id", communityRule.Update)
		communityRuleGroup.DELETE("/:rule_id", communityRule.Delete)
		communityRuleGroup.POST("/:rule_id/enable", communityRule.Enable)
		communityRuleGroup.POST("/:rule_id/disable", communityRule.Disable)
		communityRuleGroup.GET("/:rule_id/members", communityRule.Members)
		communityRuleGroup.PUT("/:rule_id/members/:user_id", communityRule.SetMember)
	}

	// 求助事件
	helpGroup := r.Group("/api/help")
	helpGroup.Use(auth, limit)
	{
		helpGroup.POST("", help.Create)
		helpGroup.DELETE("/:id", help.Delete)
		helpGroup.POST("/:id/resolve", help.Resolve)
		helpGroup.POST("/:id/support", help.Support)
		helpGroup.DELETE("/:id/support", help.Unsupport)
		helpGroup.GET("/:id/support", help.Stats)
	}

	return r
}

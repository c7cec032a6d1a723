package service

import "Care_Community/internal/pkg"

// Infra 外部基础设施。Locker、SupportCache、Notifier 可以为空
type Infra struct {
	JWT          *pkg.JWTManager
	Tokens       TokenStore
	Locker       Locker
	SupportCache SupportCache
	Notifier     InviteNotifier
	Sender       Sender
}

// Services 按依赖顺序装配好的全部服务
type Services struct {
	Permission     *PermissionService
	Activation     *ActivationService
	Rules          *RuleService
	CommunityRules *CommunityRuleService
	Plans          *PlanService
	Checkins       *CheckinService
	Supervision    *SupervisionService
	Membership     *MembershipService
	Communities    *CommunityService
	Users          *UserService
	Help           *HelpService

	Sweeper *Sweeper
	Fanout  *FanoutReconciler
	Relayer *OutboxRelayer
}

func New(d *Deps, in Infra) *Services {
	s := &Services{}
	s.Permission = NewPermissionService(d)
	s.Activation = NewActivationService(d, s.Permission)
	s.Rules = NewRuleService(d)
	s.CommunityRules = NewCommunityRuleService(d, s.Permission, s.Activation)
	s.Plans = NewPlanService(d, s.Activation)
	s.Checkins = NewCheckinService(d, s.Activation)
	s.Supervision = NewSupervisionService(d, s.Permission, s.Plans, in.Notifier)
	s.Membership = NewMembershipService(d, s.Permission, s.Activation)
	s.Communities = NewCommunityService(d, s.Permission)
	s.Users = NewUserService(d, in.JWT, in.Tokens, s.Membership)
	s.Help = NewHelpService(d, s.Permission, in.SupportCache)

	s.Sweeper = NewSweeper(d, in.Locker, s.Checkins, s.Plans)
	s.Fanout = NewFanoutReconciler(d)
	sender := in.Sender
	if sender == nil {
		sender = LogSender(d.logger())
	}
	s.Relayer = NewOutboxRelayer(d, sender)
	return s
}

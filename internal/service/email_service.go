package service

import (
	"context"
	"net/url"
	"time"

	"Care_Community/internal/errs"
	"Care_Community/internal/model"
	"Care_Community/internal/pkg"
)

// MailSender 发信端，pkg.Mailer 满足
type MailSender interface {
	Send(to, subject, html string) error
}

// MailThrottle 同一邀请人对同一地址短时间内只发一次
type MailThrottle interface {
	MarkSent(ctx context.Context, targetID uint64, email string) (bool, error)
}

// EmailService 发送监督邀请邮件
type EmailService struct {
	sender   MailSender
	throttle MailThrottle
	linkBase string
}

func NewEmailService(sender MailSender, throttle MailThrottle, linkBase string) *EmailService {
	return &EmailService{sender: sender, throttle: throttle, linkBase: linkBase}
}

// NotifyInvite 先占用发送窗口再发信，窗口期内重复调用直接返回
func (s *EmailService) NotifyInvite(ctx context.Context, target *model.User, email, token string, expiresAt time.Time) error {
	if s.throttle != nil {
		ok, err := s.throttle.MarkSent(ctx, target.ID, email)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Wrapf(errs.ErrConflict, "invite mail to %s sent recently", email)
		}
	}
	inviter := target.Nickname
	if inviter == "" {
		inviter = target.Username
	}
	link := s.linkBase + url.PathEscape(token)
	return s.sender.Send(email, "打卡监督邀请", pkg.InviteHTML(inviter, link, expiresAt))
}

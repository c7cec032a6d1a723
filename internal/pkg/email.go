package pkg

import (
	"crypto/tls"
	"fmt"
	"html"
	"time"

	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string // 发件人邮箱
	Password string // 授权码/密码
	From     string // 显示的发件人，可与 Username 相同
}

// Mailer 发信
type Mailer struct {
	cfg SMTPConfig
}

func NewMailer(cfg SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

func (m *Mailer) Send(to, subject, htmlBody string) error {
	msg := gomail.NewMessage()
	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	d := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: m.cfg.Host}
	return d.DialAndSend(msg)
}

// InviteHTML 监督邀请邮件正文
func InviteHTML(inviter, link string, expiresAt time.Time) string {
	return fmt.Sprintf(`<p>您好，</p><p><b>%s</b> 邀请您成为TA的打卡监督人。</p><p><a href="%s">点击接受邀请</a></p><p>链接有效期至 %s，请勿转发给他人。</p>`,
		html.EscapeString(inviter), html.EscapeString(link), expiresAt.Format("2006-01-02 15:04"))
}

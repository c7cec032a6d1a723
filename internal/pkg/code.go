package pkg

import (
	cryptoRand "crypto/rand"
	"encoding/base64"
)

// InviteTokenBytes 192 位随机数
const InviteTokenBytes = 24

// NewInviteToken URL 安全的 base64 邀请 token
func NewInviteToken() (string, error) {
	b := make([]byte, InviteTokenBytes)
	if _, err := cryptoRand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
